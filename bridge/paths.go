package bridge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailored-agentic-units/darkroom/session"
)

// confine resolves a client-supplied output path against root and rejects
// any path that would land outside it. Relative paths are taken relative to
// root. Existing directories on the way are resolved through symlinks so a
// link inside root cannot lead the artifact elsewhere.
func confine(root, path string) (string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	if path == root || !within(root, path) {
		return "", outside(path, root)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if errors.Is(err, fs.ErrNotExist) {
		return path, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}

	parent, err := filepath.EvalSymlinks(existingAncestor(filepath.Dir(path)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve output path: %w", err)
	}
	if !within(realRoot, parent) {
		return "", outside(path, root)
	}

	return path, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// existingAncestor returns the deepest existing directory at or above dir.
func existingAncestor(dir string) string {
	for {
		if _, err := os.Lstat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func outside(path, root string) error {
	return fmt.Errorf("%w: output path %s is outside %s", session.ErrInvalidInput, path, root)
}
