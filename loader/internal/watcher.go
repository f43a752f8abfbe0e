package internal

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultSettleTime = 2 * time.Second

// Watcher triggers a callback once the tree under root has been quiet for
// the settle time after a relevant change.
type Watcher struct {
	root   string
	walker *Walker
	settle time.Duration
	logger *slog.Logger
}

func NewWatcher(root string, walker *Walker, settle time.Duration, logger *slog.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettleTime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{root: root, walker: walker, settle: settle, logger: logger.With("component", "watcher")}
}

// Run blocks until ctx is done. Callback errors are logged and do not stop
// the watcher.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching for changes", "root", w.root, "settle", w.settle)

	timer := time.NewTimer(w.settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(fw, ev) {
				continue
			}
			w.logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(w.settle)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timer.C:
			if err := onChange(ctx); err != nil {
				w.logger.Error("run after change failed", "error", err)
			}
		}
	}
}

func (w *Watcher) relevant(fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return false
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.walker.excludedDir(rel) {
				return false
			}
			if err := w.addTree(fw, ev.Name); err != nil {
				w.logger.Warn("watch new directory", "path", ev.Name, "error", err)
			}
			return true
		}
	}
	// removed directories carry no extension; a run reconciles them
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		return filepath.Ext(rel) == "" || w.walker.Eligible(rel)
	}
	return w.walker.Eligible(rel)
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(w.root, path); err == nil && rel != "." {
			if w.walker.excludedDir(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}
		return fw.Add(path)
	})
}
