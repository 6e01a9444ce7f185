package editor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to one file. The parent directory is watched
// because many editors save by writing a new file and renaming it over the
// old one, which drops a watch on the file itself.
type Watcher struct {
	path    string
	name    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the directory containing path.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watched path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:    abs,
		name:    filepath.Base(abs),
		logger:  logger,
		watcher: fw,
	}, nil
}

// Run calls onChange for every write, create or rename landing on the
// watched file, until ctx is cancelled. Callers debounce; a single save
// usually produces several events.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	defer w.watcher.Close()

	w.logger.Info("document_watch_started", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("document_changed", "path", ev.Name, "op", ev.Op.String())
			onChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("document_watch_error", "error", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != w.name {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// Close stops watching. Run returns once its channels close.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
