package credential

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/llmgateway/proxy/pkg/safego"
)

// Watcher reloads a Manager's credentials whenever their backing files
// change, adapted from infrastructure/plugin.Loader's handleWatchEvent
// switch over fsnotify.Write/Create/Remove.
type Watcher struct {
	dir     string
	manager *Manager
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

// NewWatcher builds a file watcher over dir, reloading credentials into
// manager on change. Callers must call Start to begin watching and Close
// to release the underlying fsnotify handle.
func NewWatcher(dir string, manager *Manager, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{dir: dir, manager: manager, watcher: fw, logger: logger}, nil
}

// Start begins watching the credential directory until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	safego.Go(w.logger, "credential-watcher", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("credential watcher error", zap.Error(err))
			}
		}
	})

	w.logger.Info("credential hot-reload watching started", zap.String("dir", w.dir))
	return nil
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Write == fsnotify.Write, event.Op&fsnotify.Create == fsnotify.Create:
		if err := w.manager.LoadFile(event.Name); err != nil {
			w.logger.Error("credential reload failed", zap.String("path", event.Name), zap.Error(err))
			return
		}
		w.logger.Info("credential file reloaded", zap.String("path", event.Name))

	case event.Op&fsnotify.Remove == fsnotify.Remove:
		w.manager.RemoveFile(event.Name)
		w.logger.Info("credential file removed", zap.String("path", event.Name))
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
