// Package workerctx holds the worker this installation acts for. Writes
// that do not name a worker are attributed to it.
package workerctx

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
	"github.com/TheMichaelB/visitsync/internal/storage"
)

// fileFormat is the on-disk layout of the worker file.
type fileFormat struct {
	Version int           `json:"version"`
	Worker  models.Worker `json:"worker"`
	SetAt   time.Time     `json:"set_at"`
}

const formatVersion = 1

// Context is the persisted current worker. It is safe for concurrent use.
type Context struct {
	files  *storage.LocalStore
	name   string
	logger *events.Logger

	mu      sync.RWMutex
	current *models.Worker
}

// New creates a context persisted at path. Nothing is read until Load.
func New(path string, logger *events.Logger) (*Context, error) {
	files, err := storage.NewLocalStore(filepath.Dir(path), logger)
	if err != nil {
		return nil, fmt.Errorf("open worker context: %w", err)
	}

	return &Context{
		files:  files,
		name:   filepath.Base(path),
		logger: logger.WithField("component", "worker_context"),
	}, nil
}

// Load reads the worker file. A missing file leaves no current worker.
func (c *Context) Load() error {
	data, err := c.files.Read(c.name)
	if errors.Is(err, storage.ErrNotFound) {
		c.set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read worker context: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode worker context: %w", err)
	}
	if f.Version != formatVersion {
		return fmt.Errorf("unsupported worker context version %d", f.Version)
	}
	if f.Worker.ID == "" {
		c.set(nil)
		return nil
	}

	w := f.Worker
	c.set(&w)
	c.logger.WithField("worker_id", w.ID).Debug("Loaded current worker")
	return nil
}

// Save persists w as the current worker.
func (c *Context) Save(w models.Worker) error {
	w.ID = strings.TrimSpace(w.ID)
	w.Name = models.NormalizeText(w.Name)
	if w.ID == "" {
		return fmt.Errorf("%w: worker id is required", models.ErrInvalidRecord)
	}

	data, err := json.MarshalIndent(fileFormat{
		Version: formatVersion,
		Worker:  w,
		SetAt:   time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode worker context: %w", err)
	}

	if err := c.files.Write(c.name, data, 0600); err != nil {
		return fmt.Errorf("write worker context: %w", err)
	}

	c.set(&w)
	c.logger.WithField("worker_id", w.ID).Info("Current worker set")
	return nil
}

// Clear removes the current worker.
func (c *Context) Clear() error {
	if err := c.files.Delete(c.name); err != nil {
		return fmt.Errorf("clear worker context: %w", err)
	}
	c.set(nil)
	return nil
}

// Current returns the current worker, if any.
func (c *Context) Current() (models.Worker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return models.Worker{}, false
	}
	return *c.current, true
}

// WorkerID returns the current worker's id or ErrNoCurrentWorker.
func (c *Context) WorkerID() (string, error) {
	w, ok := c.Current()
	if !ok {
		return "", models.ErrNoCurrentWorker
	}
	return w.ID, nil
}

func (c *Context) set(w *models.Worker) {
	c.mu.Lock()
	c.current = w
	c.mu.Unlock()
}
