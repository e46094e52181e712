package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPermissionDenied is returned when a path resolves outside the workspace root.
var ErrPermissionDenied = errors.New("permission denied")

// Manager resolves paths against a sandboxed workspace root. The root is
// canonicalized once at construction; every Resolve call follows symlinks in
// the target and rejects anything that escapes the root.
type Manager struct {
	root string // canonical absolute root
}

// New creates a Manager rooted at dir, creating it if necessary.
func New(dir string) (*Manager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Manager{root: real}, nil
}

// Root returns the canonical workspace root.
func (m *Manager) Root() string { return m.root }

// Resolve returns the canonical absolute path for p, guaranteed to be inside
// the root. Empty and "." resolve to the root itself. Relative paths are
// joined to the root; absolute paths are accepted only when they already lie
// inside it. Symlinks are followed; a resolved target outside the root fails
// with ErrPermissionDenied. Symlink cycles surface the underlying error.
func (m *Manager) Resolve(p string) (string, error) {
	if p == "" || p == "." {
		return m.root, nil
	}

	var candidate string
	if filepath.IsAbs(p) {
		candidate = filepath.Clean(p)
	} else {
		candidate = filepath.Clean(filepath.Join(m.root, p))
	}

	// Lexical check first: a cleaned join containing enough ".." to climb
	// out of the root is rejected before touching the filesystem.
	if !isInside(candidate, m.root) {
		return "", fmt.Errorf("%w: %s escapes workspace", ErrPermissionDenied, p)
	}

	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if !os.IsNotExist(err) {
			// Cycles and permission failures surface as-is.
			return "", fmt.Errorf("resolve %s: %w", p, err)
		}
		// Not-yet-existing path: canonicalize the deepest existing
		// ancestor and re-append the missing components.
		real, err = resolveMissing(candidate)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", p, err)
		}
	}

	if !isInside(real, m.root) {
		return "", fmt.Errorf("%w: %s resolves outside workspace", ErrPermissionDenied, p)
	}
	return real, nil
}

// isInside checks whether child is inside or equal to parent directory.
func isInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// resolveMissing canonicalizes the deepest existing ancestor of target and
// joins the non-existent tail back on.
func resolveMissing(target string) (string, error) {
	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(target), nil
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			for _, component := range tail {
				real = filepath.Join(real, component)
			}
			return real, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
}
