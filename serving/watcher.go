package serving

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ArtifactWatcher waits for a missing artifact to appear and loads it once.
type ArtifactWatcher struct {
	loader  *Loader
	service *Service
	logger  *zap.Logger
}

func NewArtifactWatcher(loader *Loader, service *Service) *ArtifactWatcher {
	return &ArtifactWatcher{loader: loader, service: service, logger: loader.logger()}
}

// Run blocks until the model is installed or ctx is done.
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	if w.service.Ready() {
		return nil
	}
	target, err := filepath.Abs(w.loader.Path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("waiting for model artifact", zap.String("path", target))

	// The file may have landed between the failed load and Add.
	if w.tryLoad(ctx) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name != target || !event.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			if w.tryLoad(ctx) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

func (w *ArtifactWatcher) tryLoad(ctx context.Context) bool {
	if _, err := os.Stat(w.loader.Path); err != nil {
		return false
	}
	if err := w.loader.LoadInto(ctx, w.service); err != nil {
		return w.service.Ready()
	}
	return true
}
