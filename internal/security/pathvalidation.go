// Package security guards the one filesystem boundary this pipeline
// crosses on the orchestrator's behalf: each job's scratch working
// directory, derived from a job ID and joined onto a configured root.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects a job working-directory path that
// resolves outside safeDir, guarding against a job ID crafted (or
// corrupted) to traverse out of the configured working-directory root.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	cleanPath := filepath.Clean(filePath)

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	// Resolve symlinks in the longest existing prefix of each path, so a
	// link inside safeDir that points outside it is rejected even when the
	// trailing path components do not exist yet.
	resolve := func(p string) string {
		rest := ""
		for cur := p; ; cur = filepath.Dir(cur) {
			if resolved, err := filepath.EvalSymlinks(cur); err == nil {
				return filepath.Join(resolved, rest)
			}
			if filepath.Dir(cur) == cur {
				return p
			}
			rest = filepath.Join(filepath.Base(cur), rest)
		}
	}
	absPath, absSafeDir = resolve(absPath), resolve(absSafeDir)

	relPath, err := filepath.Rel(absSafeDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}

	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}

	return nil
}
