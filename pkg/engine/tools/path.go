package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesWorkspace marks a path that resolves outside the
// workspace root, directly or through a symlink.
var ErrEscapesWorkspace = errors.New("path escapes workspace")

// resolveInWorkspace turns a model-supplied path into an absolute,
// symlink-resolved path and proves it stays under workspaceRoot. For
// targets that do not exist yet, the nearest existing parent is
// resolved instead so a symlinked ancestor cannot smuggle the write
// outside.
func resolveInWorkspace(workspaceRoot, userPath string) (string, error) {
	if strings.TrimSpace(userPath) == "" {
		userPath = "."
	}

	rootAbs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root symlinks: %w", err)
	}
	rootReal = filepath.Clean(rootReal)

	targetAbs := userPath
	if !filepath.IsAbs(targetAbs) {
		targetAbs = filepath.Join(rootAbs, targetAbs)
	}
	targetAbs = filepath.Clean(targetAbs)

	if !within(rootAbs, targetAbs) {
		return "", fmt.Errorf("%w: %s", ErrEscapesWorkspace, userPath)
	}

	switch _, err := os.Lstat(targetAbs); {
	case err == nil:
		return resolveExisting(rootReal, targetAbs, userPath)
	case os.IsNotExist(err):
		return resolveMissing(rootReal, targetAbs, userPath)
	default:
		return "", fmt.Errorf("stat path: %w", err)
	}
}

// resolveExisting follows symlinks on an existing target and checks
// the real location.
func resolveExisting(rootReal, targetAbs, userPath string) (string, error) {
	targetReal, err := filepath.EvalSymlinks(targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path symlinks: %w", err)
	}
	targetReal = filepath.Clean(targetReal)
	if !within(rootReal, targetReal) {
		return "", fmt.Errorf("%w via symlink: %s", ErrEscapesWorkspace, userPath)
	}
	return targetReal, nil
}

// resolveMissing walks up to the nearest existing ancestor, resolves
// that, and re-attaches the missing suffix.
func resolveMissing(rootReal, targetAbs, userPath string) (string, error) {
	parent := filepath.Dir(targetAbs)
	for {
		if _, err := os.Lstat(parent); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat parent path: %w", err)
		}
		next := filepath.Dir(parent)
		if next == parent {
			break
		}
		parent = next
	}

	parentReal, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", fmt.Errorf("resolve parent symlinks: %w", err)
	}

	suffix, err := filepath.Rel(parent, targetAbs)
	if err != nil {
		return "", fmt.Errorf("compute target suffix: %w", err)
	}
	if suffix == ".." || strings.HasPrefix(suffix, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscapesWorkspace, userPath)
	}

	targetReal := filepath.Clean(filepath.Join(filepath.Clean(parentReal), suffix))
	if !within(rootReal, targetReal) {
		return "", fmt.Errorf("%w via symlink: %s", ErrEscapesWorkspace, userPath)
	}
	return targetReal, nil
}

// within reports whether target sits at or under root.
func within(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
