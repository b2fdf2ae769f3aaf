// Package mount implements the mount table and resolver: it
// maps a virtual path to the candidate drivers that can serve it, merges
// listings across replica groups, and synthesizes virtual directories for
// unmounted ancestors of mounted subtrees.
package mount

import (
	"sort"
	"strings"
	"sync"

	"github.com/nimbusgate/gateway/internal/driver"
	"github.com/nimbusgate/gateway/internal/meta"
	"github.com/nimbusgate/gateway/internal/pathutil"
	"github.com/nimbusgate/gateway/pkg/gwerrors"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

// Candidate is one resolved (driver, local-path) pair within a mount's
// local path space.
type Candidate struct {
	ID        string // the owning mount's id, used to match balance-group entries
	Driver    driver.Driver
	LocalPath string
	MountPath string
	Order     int
}

// entry is the table's internal record: the mount plus the live driver
// instance it's bound to.
type entry struct {
	mount  gwtypes.Mount
	driver driver.Driver
}

// Table is the shared, read-mostly mount table. Read-mostly fields are
// behind a reader-preferring lock.
type Table struct {
	mu      sync.RWMutex
	entries []entry
}

// NewTable creates an empty mount table.
func NewTable() *Table {
	return &Table{}
}

// Add registers a mount bound to a live driver instance.
func (t *Table) Add(m gwtypes.Mount, d driver.Driver) {
	m.MountPath = pathutil.FixAndClean(m.MountPath)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry{mount: m, driver: d})
}

// Remove deletes the mount with the given id.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.entries[:0]
	for _, e := range t.entries {
		if e.mount.ID != id {
			out = append(out, e)
		}
	}
	t.entries = out
}

// snapshot returns an immutable copy of the enabled entries, so resolution
// never re-enters the table's lock.
func (t *Table) snapshot() []entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.mount.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// Resolve returns the candidate set for virtual path p: all enabled mounts
// whose mount_path is an ancestor-or-equal of p, restricted to the
// maximum-length match, sorted by Order ascending.
func (t *Table) Resolve(p string) []Candidate {
	p = pathutil.FixAndClean(p)
	entries := t.snapshot()

	maxLen := -1
	var matched []entry
	for _, e := range entries {
		if !pathutil.IsSubPath(e.mount.MountPath, p) {
			continue
		}
		l := len(e.mount.MountPath)
		switch {
		case l > maxLen:
			maxLen = l
			matched = []entry{e}
		case l == maxLen:
			matched = append(matched, e)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].mount.Order < matched[j].mount.Order
	})

	candidates := make([]Candidate, 0, len(matched))
	for _, e := range matched {
		candidates = append(candidates, Candidate{
			ID:        e.mount.ID,
			Driver:    e.driver,
			LocalPath: pathutil.TrimMount(e.mount.MountPath, p),
			MountPath: e.mount.MountPath,
			Order:     e.mount.Order,
		})
	}
	return candidates
}

// VirtualDirs synthesizes the first-segment directory names of mount paths
// strictly under p, whether or not p itself is mounted.
func (t *Table) VirtualDirs(p string) []string {
	p = pathutil.FixAndClean(p)
	entries := t.snapshot()

	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		mp := e.mount.MountPath
		if mp == p {
			continue
		}
		if !strings.HasPrefix(mp, strings.TrimSuffix(p, "/")+"/") && p != "/" {
			continue
		}
		if p == "/" && mp == "/" {
			continue
		}
		rest := strings.TrimPrefix(mp, strings.TrimSuffix(p, "/"))
		rest = strings.TrimPrefix(rest, "/")
		if rest == "" {
			continue
		}
		seg := pathutil.FirstSegment("/" + rest)
		if seg == "" || seen[seg] {
			continue
		}
		seen[seg] = true
		names = append(names, seg)
	}
	return names
}

// List merges driver listings across the candidate set for p with the
// virtual directories of p, deduplicating by name and honoring hide rules
// merging real and virtual entries.
func (t *Table) List(candidates []Candidate, virtualDirs []string, metaTable *meta.Table, isAdmin bool) func(listFn func(Candidate) ([]gwtypes.Entry, error)) ([]gwtypes.Entry, error) {
	return func(listFn func(Candidate) ([]gwtypes.Entry, error)) ([]gwtypes.Entry, error) {
		seen := make(map[string]bool)
		var out []gwtypes.Entry

		for _, c := range candidates {
			entries, err := listFn(c)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if seen[e.Name] {
					continue
				}
				seen[e.Name] = true
				out = append(out, e)
			}
		}

		for _, name := range virtualDirs {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, gwtypes.Entry{Name: name, IsDir: true})
		}

		if metaTable != nil {
			filtered := out[:0]
			for _, e := range out {
				if metaTable.ShouldHide(candidatePath(candidates), e.Name, isAdmin) {
					continue
				}
				filtered = append(filtered, e)
			}
			out = filtered
		}

		return out, nil
	}
}

func candidatePath(candidates []Candidate) string {
	if len(candidates) == 0 {
		return "/"
	}
	return pathutil.Join(candidates[0].MountPath, candidates[0].LocalPath)
}

// ResolveForWrite returns the single driver that mutating operations route
// to: the first candidate in Order.
func (t *Table) ResolveForWrite(p string) (Candidate, error) {
	candidates := t.Resolve(p)
	if len(candidates) == 0 {
		return Candidate{}, gwerrors.NotFound("mount", "no mount for "+p)
	}
	return candidates[0], nil
}

// DriverByID returns the live driver instance bound to the mount with the
// given id, for callers (the load-balancing selector) that only carry a
// driver/mount id and need the instance to invoke operations on it.
func (t *Table) DriverByID(id string) (driver.Driver, gwtypes.Mount, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if e.mount.ID == id || e.mount.DriverID == id {
			return e.driver, e.mount, true
		}
	}
	return nil, gwtypes.Mount{}, false
}

// All returns every enabled mount as a Candidate with LocalPath left empty,
// for callers (the health checker) that need to enumerate every bound
// driver rather than resolve one virtual path.
func (t *Table) All() []Candidate {
	entries := t.snapshot()
	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		out = append(out, Candidate{ID: e.mount.ID, Driver: e.driver, MountPath: e.mount.MountPath, Order: e.mount.Order})
	}
	return out
}

// Exists reports whether p resolves to at least one real mount or synthesizes
// at least one virtual directory — used to decide NotFound.
func (t *Table) Exists(p string) bool {
	p = pathutil.FixAndClean(p)
	if len(t.Resolve(p)) > 0 {
		return true
	}
	if p == "/" {
		return true
	}
	return len(t.VirtualDirs(p)) > 0
}
