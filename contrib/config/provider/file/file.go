// Package file implements a config.Source backed by a single file on disk,
// decoded by extension (.yaml/.yml or .json) and watched for changes with
// fsnotify.
package file

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/omalloc/reqqueue/contrib/config"
)

type source struct {
	path   string
	format string
}

// New returns a config.Source that loads path wholesale as one KeyValue,
// with Format derived from the file extension ("yaml"/"yml"/"json").
func New(path string) config.Source {
	return &source{path: path, format: formatOf(path)}
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func (s *source) Load() ([]*config.KeyValue, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return []*config.KeyValue{{
		Key:    s.path,
		Value:  data,
		Format: s.format,
	}}, nil
}

func (s *source) Watch() (config.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &watcher{src: s, fsw: w}, nil
}

type watcher struct {
	src *source
	fsw *fsnotify.Watcher
}

// Next blocks until the watched file is written or created, then reloads
// it. Renames and removes of unrelated files in the same directory are
// ignored; a rename/remove of the watched file itself is reported as an
// error so callers can decide whether to keep running on stale config.
func (w *watcher) Next() ([]*config.KeyValue, error) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil, os.ErrClosed
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.src.path) {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return nil, os.ErrNotExist
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				return w.src.Load()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil, os.ErrClosed
			}
			return nil, err
		}
	}
}

func (w *watcher) Stop() error {
	return w.fsw.Close()
}
