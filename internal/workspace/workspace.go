// internal/workspace/workspace.go
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const markerDir = ".chisel"

// Workspace is the engine's view of the working tree: it resolves the
// project root, reads and writes task files, and tracks which paths
// changed since the last checkpoint. All writes are serialized so two
// tasks can never interleave on the same file.
type Workspace struct {
	Root   string
	logger *zap.Logger

	mu    sync.RWMutex
	dirty map[string]bool

	watcher *watcher
}

// Initialize creates the workspace marker directory under dir.
func Initialize(dir string) error {
	path := filepath.Join(dir, markerDir)
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", markerDir, err)
	}
	return nil
}

// FindRoot searches upward from startDir for the workspace marker.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, markerDir)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s directory found above %s", markerDir, startDir)
		}
		dir = parent
	}
}

// Open opens the workspace rooted at root.
func Open(root string, logger *zap.Logger) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("root path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", root)
	}

	return &Workspace{
		Root:   root,
		logger: logger,
		dirty:  make(map[string]bool),
	}, nil
}

// ReadFile returns the content of the file at the workspace-relative
// path.
func (w *Workspace) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(w.Root, path))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile replaces the content of the file at the workspace-relative
// path, creating parent directories as needed, and marks it dirty.
func (w *Workspace) WriteFile(path, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	abs := filepath.Join(w.Root, path)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	w.dirty[filepath.ToSlash(path)] = true
	return nil
}

func (w *Workspace) markDirty(path string) {
	w.mu.Lock()
	w.dirty[filepath.ToSlash(path)] = true
	w.mu.Unlock()
}

// DirtyPaths lists the workspace-relative paths modified since the
// last ClearDirty.
func (w *Workspace) DirtyPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, 0, len(w.dirty))
	for path := range w.dirty {
		paths = append(paths, path)
	}
	return paths
}

// ClearDirty forgets accumulated modifications, typically right after
// a checkpoint covers them.
func (w *Workspace) ClearDirty() {
	w.mu.Lock()
	w.dirty = make(map[string]bool)
	w.mu.Unlock()
}

// Close stops the watcher if one is running.
func (w *Workspace) Close() error {
	if w.watcher != nil {
		return w.watcher.stop()
	}
	return nil
}
