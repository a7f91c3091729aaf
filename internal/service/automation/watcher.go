package automation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LocatorWatcher reloads the locator file into a LocatorSet when it changes.
type LocatorWatcher struct {
	path     string
	set      *LocatorSet
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	reload   chan struct{}
}

func NewLocatorWatcher(path string, set *LocatorSet, logger *zap.Logger) (*LocatorWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve locators path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &LocatorWatcher{
		path:     absPath,
		set:      set,
		logger:   logger,
		watcher:  watcher,
		debounce: 500 * time.Millisecond,
		stopChan: make(chan struct{}),
		reload:   make(chan struct{}, 1),
	}, nil
}

// Start watches the file's directory; editors often replace files instead of
// writing in place.
func (lw *LocatorWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(lw.path)
	if err := lw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	lw.logger.Info("Watching locator file", zap.String("path", lw.path))

	go lw.watchLoop(ctx)
	go lw.reloadLoop(ctx)
	return nil
}

func (lw *LocatorWatcher) Stop() {
	lw.stopOnce.Do(func() {
		close(lw.stopChan)
		if err := lw.watcher.Close(); err != nil {
			lw.logger.Error("Error closing locator watcher", zap.Error(err))
		}
	})
}

func (lw *LocatorWatcher) watchLoop(ctx context.Context) {
	name := filepath.Base(lw.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-lw.stopChan:
			return
		case event, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				select {
				case lw.reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			lw.logger.Error("Locator watcher error", zap.Error(err))
		}
	}
}

func (lw *LocatorWatcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-lw.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-lw.reload:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(lw.debounce, lw.apply)
		}
	}
}

func (lw *LocatorWatcher) apply() {
	loc, err := LoadLocators(lw.path)
	if err != nil {
		// Keep serving the previous table.
		lw.logger.Error("Failed to reload locators", zap.Error(err))
		return
	}
	lw.set.Store(loc)
	lw.logger.Info("Locators reloaded", zap.String("path", lw.path))
}
