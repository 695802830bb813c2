// Package watch re-runs work whenever the Rust sources of a firmware tree
// change. Bursts of events (an editor save, a git checkout) collapse into a
// single trigger once the tree has been quiet for the debounce interval.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/ctxlog"
)

// DefaultDebounce is the quiet period used by the CLI.
const DefaultDebounce = 300 * time.Millisecond

// Watcher observes a firmware file or directory tree.
type Watcher struct {
	root   string
	file   string // set when root is a single file
	ignore func(rel string) bool
	fsw    *fsnotify.Watcher
}

// New starts watching path. A directory is watched recursively, skipping
// build output and hidden directories the way the scan does; directories
// created later are picked up as they appear. ignore, when set, receives
// slash-separated paths relative to the root.
func New(path string, ignore func(rel string) bool) (*Watcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("watch: stat %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{root: path, ignore: ignore, fsw: fsw}
	if !info.IsDir() {
		w.root, w.file = filepath.Dir(path), path
		err = fsw.Add(w.root)
	} else {
		err = w.addTree(path)
	}
	if err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close releases the underlying watches.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
	if err != nil {
		return fmt.Errorf("watch: add %s: %w", dir, err)
	}
	return nil
}

func skipDir(name string) bool {
	return name == "target" || strings.HasPrefix(name, ".")
}

// relevant reports whether an event on path should schedule a trigger.
func (w *Watcher) relevant(path string) bool {
	if w.file != "" {
		return path == w.file
	}
	if filepath.Ext(path) != ".rs" {
		return false
	}
	if w.ignore == nil {
		return true
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	return !w.ignore(filepath.ToSlash(rel))
}

// Run calls trigger each time the watched sources settle after a change.
// trigger runs on Run's goroutine; events arriving meanwhile are handled
// afterwards. Run returns nil when ctx is done.
func (w *Watcher) Run(ctx context.Context, debounce time.Duration, trigger func(context.Context)) error {
	log := ctxlog.FromContext(ctx)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && w.file == "" {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !skipDir(info.Name()) {
					if err := w.addTree(ev.Name); err != nil {
						log.Warn("watch new directory", "path", ev.Name, "err", err)
					}
				}
			}
			if !w.relevant(ev.Name) {
				continue
			}
			log.Debug("source changed", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "err", err)

		case <-fire:
			fire = nil
			trigger(ctx)
		}
	}
}
