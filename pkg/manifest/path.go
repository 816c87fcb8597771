package manifest

import (
	"path"
	"strings"

	"github.com/arthur-debert/confpack/pkg/errors"
)

// NormalizePath cleans a manifest-relative path and rejects anything
// that could escape the app root: absolute paths, Windows drive or
// backslash forms, and '..' segments. Returned paths are POSIX-style
// and byte-exact for comparison.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", errors.New(errors.ErrInvalidPath, "empty path")
	}
	if strings.ContainsRune(p, '\\') {
		return "", errors.Newf(errors.ErrInvalidPath, "path %q contains backslash separators", p).WithPath(p)
	}
	if strings.HasPrefix(p, "/") {
		return "", errors.Newf(errors.ErrInvalidPath, "path %q is absolute", p).WithPath(p)
	}

	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.Newf(errors.ErrInvalidPath, "path %q escapes the app root", p).WithPath(p)
	}
	return cleaned, nil
}

// checkCollisions rejects duplicate paths. When caseInsensitive is
// set (a policy for targets on case-insensitive filesystems, not a
// default), paths that differ only by case also collide.
func checkCollisions(entries []FileEntry, caseInsensitive bool) error {
	seen := make(map[string]string, len(entries))
	for _, e := range entries {
		key := e.Path
		if caseInsensitive {
			key = strings.ToLower(e.Path)
		}
		if prior, ok := seen[key]; ok {
			return errors.Newf(errors.ErrInvalidPath,
				"path %q collides with %q", e.Path, prior).WithPath(e.Path)
		}
		seen[key] = e.Path
	}
	return nil
}
