// Package watch reloads recipes when the cache or local recipe directories
// change on disk.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/airules/internal/cache"
	"github.com/starford/airules/internal/recipe"
)

// DefaultDebounce coalesces bursts of events (a cache rewrite touches every
// file) into one reload.
const DefaultDebounce = 200 * time.Millisecond

// ChangeFunc is called once per debounced burst with the paths that changed.
type ChangeFunc func(paths []string)

// Dirs watches dirs until ctx is cancelled and calls onChange after recipe
// files or cache metadata change. A directory that does not exist yet is
// picked up when it is created, as long as its parent exists.
func Dirs(ctx context.Context, dirs []string, debounce time.Duration, logger *slog.Logger, onChange ChangeFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	targets := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return err
		}
		targets[abs] = struct{}{}
		addDir(w, abs, logger)
	}

	logger.Info("watcher: started", slog.Int("dirs", len(targets)))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		pending = map[string]struct{}{}
	)
	schedule := func(path string) {
		pending[path] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = map[string]struct{}{}
			logger.Debug("watcher: change", slog.Int("paths", len(paths)))
			onChange(paths)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			path := filepath.Clean(ev.Name)

			// A watched directory appeared: start watching it and reload.
			if _, isTarget := targets[path]; isTarget && ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
					addDir(w, path, logger)
					schedule(path)
				}
				continue
			}
			if _, isTarget := targets[filepath.Dir(path)]; !isTarget {
				continue
			}
			if !relevant(path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule(path)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDir watches dir when it exists, otherwise its parent so that creation
// of dir is observed.
func addDir(w *fsnotify.Watcher, dir string, logger *slog.Logger) {
	if err := w.Add(dir); err == nil {
		logger.Debug("watcher: watching", slog.String("dir", dir))
		return
	}
	parent := filepath.Dir(dir)
	if err := w.Add(parent); err != nil {
		logger.Warn("watcher: cannot watch", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}
	logger.Debug("watcher: waiting for dir", slog.String("dir", dir))
}

func relevant(path string) bool {
	base := filepath.Base(path)
	if base == cache.MetadataFile {
		return true
	}
	if len(base) > 0 && base[0] == '.' {
		return false
	}
	return recipe.Recognized(base)
}
