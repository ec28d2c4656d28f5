// Package workspace gives rooted, traversal-safe access to the local
// editing workspace. Scripts live at <root>/<owner>/<script>; the watcher
// reads changed files from here and checkout materializes content into it.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/perthro/internal/models"
)

// FS is a workspace rooted at a single directory.
type FS struct {
	root string // absolute path to the workspace directory
}

// New creates a workspace rooted at the given directory.
// The directory must already exist.
func New(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute workspace root.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves owner/script against the root and rejects any result
// that escapes it (directory traversal).
func (f *FS) safePath(id models.Identity) (string, error) {
	rel := filepath.Join(filepath.Clean(id.Owner), filepath.Clean(id.Script))
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("workspace: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, rel))
	if err != nil {
		return "", fmt.Errorf("workspace: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("workspace: path escapes root: %s", id.Key())
	}
	return abs, nil
}

// Identify maps an absolute path inside the workspace to a script identity.
// Paths outside the root, at the wrong depth, or pointing at hidden or
// temporary files yield ok=false.
func (f *FS) Identify(absPath string) (models.Identity, bool) {
	rel, err := filepath.Rel(f.root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return models.Identity{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return models.Identity{}, false
	}
	owner, script := parts[0], parts[1]
	if owner == "" || script == "" ||
		strings.HasPrefix(owner, ".") || strings.HasPrefix(script, ".") ||
		strings.HasSuffix(script, "~") || strings.HasSuffix(script, ".swp") {
		return models.Identity{}, false
	}
	return models.Identity{Owner: owner, Script: script}, true
}

// List walks the workspace and returns the identity of every script file.
func (f *FS) List() ([]models.Identity, error) {
	var out []models.Identity
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if id, ok := f.Identify(p); ok {
			out = append(out, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a script file.
func (f *FS) Read(id models.Identity) ([]byte, error) {
	abs, err := f.safePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: read %s: %w", id.Key(), err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(id models.Identity, content []byte) error {
	abs, err := f.safePath(id)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workspace: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".perthro-tmp-*")
	if err != nil {
		return fmt.Errorf("workspace: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("workspace: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("workspace: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("workspace: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("workspace: rename: %w", err)
	}
	success = true
	return nil
}
