// internal/workspace/watcher.go
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var ignoreDirs = map[string]bool{
	".chisel":      true,
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// watcher feeds filesystem events into the workspace's dirty set, so
// out-of-band edits (an editor, another tool) are seen the same way as
// the engine's own writes.
type watcher struct {
	fsw    *fsnotify.Watcher
	root   string
	mark   func(string)
	logger *zap.Logger
	done   chan struct{}
}

// Watch starts tracking filesystem modifications under the workspace
// root.
func (w *Workspace) Watch() error {
	if w.watcher != nil {
		return fmt.Errorf("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	wt := &watcher{
		fsw:    fsw,
		root:   w.Root,
		mark:   w.markDirty,
		logger: w.logger,
		done:   make(chan struct{}),
	}

	if err := wt.addRecursive(w.Root); err != nil {
		fsw.Close()
		return err
	}

	w.watcher = wt
	go wt.loop()
	return nil
}

func (t *watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignoreDirs[d.Name()] && path != t.root {
			return filepath.SkipDir
		}
		if err := t.fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (t *watcher) loop() {
	for {
		select {
		case event, ok := <-t.fsw.Events:
			if !ok {
				return
			}
			t.handle(event)
		case err, ok := <-t.fsw.Errors:
			if !ok {
				return
			}
			t.logger.Warn("watcher error", zap.Error(err))
		case <-t.done:
			return
		}
	}
}

func (t *watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(t.root, event.Name)
	if err != nil {
		return
	}

	// Ignore anything inside an ignored directory.
	slashed := filepath.ToSlash(rel)
	for _, dir := range []string{".chisel/", ".git/", "node_modules/", "vendor/"} {
		if strings.HasPrefix(slashed, dir) {
			return
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 && !ignoreDirs[info.Name()] {
			if err := t.fsw.Add(event.Name); err != nil {
				t.logger.Warn("watching new directory", zap.String("path", rel), zap.Error(err))
			}
		}
		return
	}

	t.mark(rel)
}

func (t *watcher) stop() error {
	close(t.done)
	return t.fsw.Close()
}
