package pathutil

import "testing"

func TestFixAndClean(t *testing.T) {
	cases := map[string]string{
		"":            "/",
		"/":           "/",
		"foo":         "/foo",
		"/foo/":       "/foo",
		"/foo//bar":   "/foo/bar",
		"/foo/../bar": "/bar",
		".":           "/",
	}
	for in, want := range cases {
		if got := FixAndClean(in); got != want {
			t.Errorf("FixAndClean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFixAndCleanIdempotent(t *testing.T) {
	inputs := []string{"", "/", "foo/bar", "/foo//bar/../baz"}
	for _, in := range inputs {
		once := FixAndClean(in)
		twice := FixAndClean(once)
		if once != twice {
			t.Errorf("FixAndClean not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestIsSubPath(t *testing.T) {
	if !IsSubPath("/mnt", "/mnt") {
		t.Error("mount path should be its own subpath")
	}
	if !IsSubPath("/mnt", "/mnt/a/b") {
		t.Error("descendant should be a subpath")
	}
	if IsSubPath("/mnt", "/mntx") {
		t.Error("prefix-but-not-boundary should not match")
	}
	if !IsSubPath("/", "/anything/at/all") {
		t.Error("root mount should contain everything")
	}
}

func TestTrimMount(t *testing.T) {
	if got := TrimMount("/mnt", "/mnt"); got != "/" {
		t.Errorf("TrimMount exact match = %q, want /", got)
	}
	if got := TrimMount("/mnt", "/mnt/a/b"); got != "/a/b" {
		t.Errorf("TrimMount = %q, want /a/b", got)
	}
	if got := TrimMount("/", "/a/b"); got != "/a/b" {
		t.Errorf("TrimMount at root = %q, want /a/b", got)
	}
}

func TestFirstSegment(t *testing.T) {
	if got := FirstSegment("/a/b/c"); got != "a" {
		t.Errorf("FirstSegment = %q, want a", got)
	}
	if got := FirstSegment("/a"); got != "a" {
		t.Errorf("FirstSegment = %q, want a", got)
	}
}
