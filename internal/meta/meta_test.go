package meta

import "testing"

func TestResolveLongestAncestor(t *testing.T) {
	table := NewTable()
	table.Set(Rule{Path: "/", HideSub: true, Hide: "^\\."})
	table.Set(Rule{Path: "/docs", HideSub: true, Hide: "draft.*"})

	rule, ok := table.Resolve("/docs/internal/x")
	if !ok {
		t.Fatal("expected a rule to apply")
	}
	if rule.Path != "/docs" {
		t.Errorf("Resolve picked %q, want /docs", rule.Path)
	}
}

func TestShouldHideRespectsSubFlag(t *testing.T) {
	table := NewTable()
	table.Set(Rule{Path: "/docs", HideSub: false, Hide: "secret.*"})

	if table.ShouldHide("/docs/nested", "secret.txt", false) {
		t.Error("rule without HideSub should not apply to a nested directory")
	}
	if !table.ShouldHide("/docs", "secret.txt", false) {
		t.Error("rule should apply at its exact path")
	}
}

func TestShouldHideAdminBypass(t *testing.T) {
	table := NewTable()
	table.Set(Rule{Path: "/docs", HideSub: true, Hide: ".*"})

	if table.ShouldHide("/docs/a", "anything", true) {
		t.Error("admin callers should never have entries hidden")
	}
}

func TestShouldHideInvalidPatternSkipped(t *testing.T) {
	table := NewTable()
	table.Set(Rule{Path: "/docs", HideSub: true, Hide: "(unterminated"})

	if table.ShouldHide("/docs/a", "file.txt", false) {
		t.Error("an invalid regex should be skipped, not matched")
	}
}
