// Package file implements a config.Source backed by a single file on
// disk, watched for changes with fsnotify — the local counterpart to the
// teacher's provider/remote source.
package file

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/devojony/mediacache/contrib/config"
)

var _ config.Source = (*fileSource)(nil)

type fileSource struct {
	path string
}

// NewSource returns a config.Source that reads path and, when format is
// inferable from its extension (.yaml/.yml/.json), decodes accordingly.
func NewSource(path string) config.Source {
	return &fileSource{path: path}
}

func (f *fileSource) Load() ([]*config.KeyValue, error) {
	buf, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	return []*config.KeyValue{
		{
			Key:    f.path,
			Value:  buf,
			Format: formatOf(f.path),
		},
	}, nil
}

func (f *fileSource) Watch() (config.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &fileWatcher{source: f, w: w}, nil
}

type fileWatcher struct {
	source *fileSource
	w      *fsnotify.Watcher
}

func (fw *fileWatcher) Next() ([]*config.KeyValue, error) {
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return nil, os.ErrClosed
			}
			if filepath.Clean(ev.Name) != filepath.Clean(fw.source.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			return fw.source.Load()
		case err, ok := <-fw.w.Errors:
			if !ok || err != nil {
				return nil, err
			}
		}
	}
}

func (fw *fileWatcher) Stop() error {
	return fw.w.Close()
}

func formatOf(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	switch ext {
	case "yaml", "yml", "json":
		return ext
	default:
		return "yaml"
	}
}
