// Package resources keeps track of the static pages served to browsers, so
// localized variants can be preferred when they exist.
package resources

import (
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Pages indexes the regular files below a directory under a URL prefix:
// with prefix "/static/", the file "it_it/success.html" is known as
// "/static/it_it/success.html".
type Pages struct {
	dir    string
	prefix string
	logger *slog.Logger

	mu    sync.RWMutex
	paths map[string]struct{}

	watcher *dirWatcher
}

func NewPages(
	dir string,
	prefix string,
	logger *slog.Logger,
) *Pages {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pages{
		dir:    dir,
		prefix: "/" + strings.Trim(prefix, "/") + "/",
		logger: logger,
		paths:  map[string]struct{}{},
	}
	p.load()
	return p
}

func (p *Pages) Dir() string {
	return p.dir
}

func (p *Pages) Exists(urlPath string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.paths[urlPath]
	return ok
}

// Watch reloads the index whenever files below the directory change.
func (p *Pages) Watch() error {
	w, err := watchTree(p.dir, p.logger, p.load)
	if err != nil {
		return err
	}
	p.watcher = w
	return nil
}

func (p *Pages) Close() error {
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.close()
	p.watcher = nil
	return err
}

func (p *Pages) load() {
	paths := map[string]struct{}{}
	err := filepath.WalkDir(p.dir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(p.dir, file)
		if err != nil {
			return err
		}
		paths[path.Join(p.prefix, filepath.ToSlash(rel))] = struct{}{}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("failed to index static pages", "dir", p.dir, "error", err)
	}

	p.mu.Lock()
	p.paths = paths
	p.mu.Unlock()

	p.logger.Debug("indexed static pages", "dir", p.dir, "count", len(paths))
}
