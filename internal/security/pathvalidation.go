// Package security guards the file names the process derives from run IDs
// and database paths.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects filePath if, after cleaning and
// resolving symlinks, it lies outside dir. filePath need not exist yet; its
// nearest existing parent is resolved instead.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	canonical := absPath
	for p := absPath; ; {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			rest, _ := filepath.Rel(p, absPath)
			canonical = filepath.Join(resolved, rest)
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}

	rel, err := filepath.Rel(canonicalDir, canonical)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, dir)
	}
	return nil
}

// maxFilenameLen caps SanitizeFilename output.
const maxFilenameLen = 128

// SanitizeFilename maps s onto [A-Za-z0-9._-], replacing each run of other
// characters with a single underscore. Leading and trailing dots and
// underscores are trimmed; an empty result becomes "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			if pending {
				b.WriteByte('_')
				pending = false
			}
			b.WriteRune(r)
		default:
			pending = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
