// Package pathcheck validates and normalizes filesystem paths before
// they reach any privileged mount operation.
package pathcheck

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalid reports a path that fails one of the validation rules
	ErrInvalid = errors.New("invalid path")
	// ErrNotExist reports a path that fails the MustExist check
	ErrNotExist = errors.New("path does not exist")
)

// Options controls the optional checks performed by Validate
type Options struct {
	// BaseDir, when non-empty, requires the resolved path to live
	// under this directory. Both sides are symlink-resolved before
	// comparing, so a symlink cannot escape the boundary.
	BaseDir string
	// MustExist requires the resolved path to exist on disk
	MustExist bool
}

// Validate checks a candidate absolute path and returns its normalized,
// symlink-resolved form. It rejects empty or whitespace-only input,
// null bytes, spaces, and relative paths. Aside from the stat and
// symlink resolution it needs, it has no side effects.
func Validate(path string, opts Options) (string, error) {
	path = strings.TrimSpace(path)

	if path == "" {
		return "", fmt.Errorf("%w: path is empty", ErrInvalid)
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: path contains a null byte", ErrInvalid)
	}
	if strings.Contains(path, " ") {
		return "", fmt.Errorf("%w: %q contains a space", ErrInvalid, path)
	}
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalid, path)
	}

	real := resolveSymlinks(filepath.Clean(path))

	if opts.BaseDir != "" {
		base := resolveSymlinks(filepath.Clean(opts.BaseDir))
		if real != base && !strings.HasPrefix(real, base+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %q is outside base directory %q", ErrInvalid, real, base)
		}
	}

	if opts.MustExist {
		if _, err := os.Stat(real); err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", ErrNotExist, real)
			}
			return "", fmt.Errorf("stat %s: %w", real, err)
		}
	}

	return real, nil
}

// resolveSymlinks resolves symlinks in path even when the trailing
// components do not exist yet: it resolves the longest existing
// ancestor and re-joins the remainder.
func resolveSymlinks(path string) string {
	rest := ""
	for p := path; ; {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(resolved, rest)
		}

		parent := filepath.Dir(p)
		if parent == p {
			return filepath.Join(p, rest)
		}
		rest = filepath.Join(filepath.Base(p), rest)
		p = parent
	}
}
