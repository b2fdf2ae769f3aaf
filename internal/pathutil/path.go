// Package pathutil canonicalizes virtual paths and resolves mount-path
// containment.
package pathutil

import (
	"path"
	"strings"
)

// FixAndClean canonicalizes p: forces a leading slash, collapses ".."/"."
// segments and duplicate slashes, and strips any trailing slash except for
// the root itself. Idempotent: FixAndClean(FixAndClean(p)) == FixAndClean(p).
func FixAndClean(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	cleaned := path.Clean(p)
	if cleaned == "." {
		return "/"
	}
	return cleaned
}

// IsSubPath reports whether p is mountPath itself or a descendant of it.
// Both arguments are expected to already be canonical.
func IsSubPath(mountPath, p string) bool {
	if mountPath == p {
		return true
	}
	if mountPath == "/" {
		return true
	}
	return strings.HasPrefix(p, mountPath+"/")
}

// TrimMount strips mountPath from p, returning the driver-local path. If the
// remainder is empty, "/" is returned.
func TrimMount(mountPath, p string) string {
	if mountPath == "/" {
		return FixAndClean(p)
	}
	rest := strings.TrimPrefix(p, mountPath)
	if rest == "" {
		return "/"
	}
	return FixAndClean(rest)
}

// FirstSegment returns the first path segment of p (no leading slash, no
// trailing content), used to synthesize virtual directory names from the
// remainder of an unmounted ancestor.
func FirstSegment(p string) string {
	trimmed := strings.TrimPrefix(p, "/")
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// Parent returns the canonical parent of p ("/" if p is already root).
func Parent(p string) string {
	p = FixAndClean(p)
	if p == "/" {
		return "/"
	}
	dir := path.Dir(p)
	return FixAndClean(dir)
}

// Base returns the final path segment of p ("" for root).
func Base(p string) string {
	p = FixAndClean(p)
	if p == "/" {
		return ""
	}
	return path.Base(p)
}

// Join joins a and b as virtual-path segments and canonicalizes the result.
func Join(a, b string) string {
	return FixAndClean(path.Join(a, b))
}
