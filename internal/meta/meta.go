// Package meta implements the longest-ancestor meta-rule lookup that gates
// hidden entries, passwords, and readmes per virtual path.
package meta

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/nimbusgate/gateway/internal/pathutil"
)

// Rule is one row of the metas table.
type Rule struct {
	Path       string
	Password   string
	PasswordSub bool
	Write      bool
	WriteSub   bool
	Hide       string // regex patterns, one per line
	HideSub    bool
	Readme     string
	ReadmeSub  bool
	Header     string
	HeaderSub  bool
}

// Table holds all meta rules and resolves the longest-matching ancestor for
// a given path.
type Table struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewTable creates an empty meta table.
func NewTable() *Table {
	return &Table{rules: make(map[string]Rule)}
}

// Set inserts or replaces the rule for r.Path.
func (t *Table) Set(r Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules[pathutil.FixAndClean(r.Path)] = r
}

// Remove deletes the rule at path, if any.
func (t *Table) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rules, pathutil.FixAndClean(path))
}

// Resolve finds the longest ancestor-or-equal rule for p. ok is false only
// if no rule exists at p or any ancestor. The *_sub flags are not consulted
// here; callers check the flag for the field they read (ShouldHide checks
// HideSub).
func (t *Table) Resolve(p string) (Rule, bool) {
	p = pathutil.FixAndClean(p)

	t.mu.RLock()
	defer t.mu.RUnlock()

	candidates := make([]string, 0, len(t.rules))
	for rulePath := range t.rules {
		if pathutil.IsSubPath(rulePath, p) {
			candidates = append(candidates, rulePath)
		}
	}
	if len(candidates) == 0 {
		return Rule{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i]) > len(candidates[j])
	})

	best := candidates[0]
	return t.rules[best], true
}

// HidePatterns compiles the rule's Hide field (one regex per non-empty
// line) into matchers.
func (r Rule) HidePatterns() []*regexp.Regexp {
	if r.Hide == "" {
		return nil
	}
	lines := strings.Split(r.Hide, "\n")
	patterns := make([]*regexp.Regexp, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if re, err := regexp.Compile(line); err == nil {
			patterns = append(patterns, re)
		}
	}
	return patterns
}

// ShouldHide reports whether entryName is suppressed by the rule applying
// at parentPath, for a non-admin caller. isAdmin callers never hide.
func (t *Table) ShouldHide(parentPath, entryName string, isAdmin bool) bool {
	if isAdmin {
		return false
	}

	rule, ok := t.Resolve(parentPath)
	if !ok {
		return false
	}

	// A rule only governs this path if it's an exact match, or an ancestor
	// with HideSub set.
	rulePath := pathutil.FixAndClean(rule.Path)
	parentPath = pathutil.FixAndClean(parentPath)
	if rulePath != parentPath && !rule.HideSub {
		return false
	}

	for _, pat := range rule.HidePatterns() {
		if pat.MatchString(entryName) {
			return true
		}
	}
	return false
}
