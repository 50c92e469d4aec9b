package connectivity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/TheMichaelB/visitsync/internal/events"
)

// TriggerWatcher calls a function whenever the trigger file is created or
// written. The file is removed after each trigger so `touch` works again.
type TriggerWatcher struct {
	path    string
	onTouch func()
	logger  *events.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewTriggerWatcher creates a watcher for path.
func NewTriggerWatcher(path string, onTouch func(), logger *events.Logger) *TriggerWatcher {
	return &TriggerWatcher{
		path:    filepath.Clean(path),
		onTouch: onTouch,
		logger:  logger.WithField("component", "trigger_watcher"),
	}
}

// Start watches the trigger file's directory until ctx ends or Stop.
func (tw *TriggerWatcher) Start(ctx context.Context) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.running {
		return fmt.Errorf("watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(tw.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	// a trigger left from before startup still counts
	if _, err := os.Stat(tw.path); err == nil {
		tw.fire()
	}

	tw.watcher = watcher
	tw.running = true
	tw.wg.Add(1)
	go tw.processEvents(ctx, watcher)

	tw.logger.WithField("path", tw.path).Debug("Watching sync trigger")
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (tw *TriggerWatcher) Stop() error {
	tw.mu.Lock()
	if !tw.running {
		tw.mu.Unlock()
		return nil
	}
	tw.running = false
	watcher := tw.watcher
	tw.mu.Unlock()

	err := watcher.Close()
	tw.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (tw *TriggerWatcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	defer tw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			go tw.Stop()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != tw.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			// a create and a write often arrive together; only the first
			// still finds the file
			if _, err := os.Stat(tw.path); err == nil {
				tw.fire()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			tw.logger.WithError(err).Warn("Trigger watcher error")
		}
	}
}

func (tw *TriggerWatcher) fire() {
	if err := os.Remove(tw.path); err != nil && !os.IsNotExist(err) {
		tw.logger.WithError(err).Debug("Could not remove trigger file")
	}
	tw.logger.Debug("Sync trigger touched")
	tw.onTouch()
}
