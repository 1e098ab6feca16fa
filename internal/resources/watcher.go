package resources

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDelay = time.Millisecond * 500

type dirWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *slog.Logger
}

// watchTree calls callback after changes anywhere below root settle down.
// fsnotify watches are not recursive, so every directory is added on its own.
func watchTree(
	root string,
	logger *slog.Logger,
	callback func(),
) (
	*dirWatcher,
	error,
) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &dirWatcher{
		watcher: watcher,
		done:    make(chan struct{}),
		logger:  logger,
	}
	if err := w.addTree(root); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	reload := make(chan struct{}, 1)
	go w.scheduleReload(reload, callback)
	go w.handleWatcher(reload)
	return w, nil
}

func (w *dirWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *dirWatcher) close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *dirWatcher) handleWatcher(reload chan<- struct{}) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("resource watcher couldn't add directory", "dir", event.Name, "error", err)
					}
				}
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) ||
				event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("resource watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *dirWatcher) scheduleReload(reload <-chan struct{}, callback func()) {
	var timer *time.Timer = nil
	var c <-chan time.Time = nil
	for {
		select {
		case <-reload:
			if timer != nil {
				timer.Reset(reloadDelay)
			} else {
				timer = time.NewTimer(reloadDelay)
				c = timer.C
			}

		case <-c:
			c = nil
			timer = nil
			callback()

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
