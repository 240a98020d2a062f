// Package pathfilter holds the path rules shared by every event source:
// hidden-segment detection and root-relative path resolution.
package pathfilter

import (
	"os"
	"path/filepath"
	"strings"
)

// IsHidden reports whether any segment of rel begins with a dot.
// "." and ".." are not considered hidden segments.
func IsHidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "" || part == "." || part == ".." {
			continue
		}
		if part[0] == '.' {
			return true
		}
	}
	return false
}

// Rel returns path relative to root. ok is false when path lies outside root
// or is root itself.
func Rel(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return rel, true
}

// IsDir reports whether path is a directory without following symlinks.
// exists is false when the path disappeared.
func IsDir(path string) (isDir, exists bool) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, false
	}
	return info.IsDir(), true
}
