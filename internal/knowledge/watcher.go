package knowledge

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads a constraints file.
//
// The parent directory is watched rather than the file itself, so editors
// that save by writing a temp file and renaming it over the target keep
// firing events after the first replacement. A rewrite that fails to
// parse keeps the previous constraints in effect.
type Watcher struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stop    chan struct{}

	mu      sync.RWMutex
	current *Constraints
}

// NewWatcher loads the constraints file and starts watching it for
// changes. The initial load must succeed.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	initial, err := LoadConstraints(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		path:    path,
		logger:  logger,
		watcher: fsw,
		stop:    make(chan struct{}),
		current: initial,
	}
	go w.run()

	logger.Info("watching constraints file", zap.String("path", path))
	return w, nil
}

// Current returns the active constraints snapshot.
func (w *Watcher) Current() *Constraints {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// PromptText renders the active constraints. Suitable as a criteria
// source for the Judge and the generation prompt.
func (w *Watcher) PromptText() string {
	return w.Current().PromptText()
}

// Close stops watching. The last loaded constraints remain available
// through Current.
func (w *Watcher) Close() error {
	select {
	case <-w.stop:
		return nil
	default:
		close(w.stop)
		return w.watcher.Close()
	}
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("constraints watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	loaded, err := LoadConstraints(w.path)
	if err != nil {
		w.logger.Error("constraints reload failed, keeping previous",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = loaded
	w.mu.Unlock()

	w.logger.Info("constraints reloaded",
		zap.String("path", w.path),
		zap.Int("forbidden_components", len(loaded.ForbiddenComponents)),
		zap.Int("ratio_bounds", len(loaded.RatioBounds)))
}
