package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Backend kinds.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Remote backend
	API APIConfig `json:"api" mapstructure:"api"`

	// Local status API served by the daemon
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for backend communication.
type APIConfig struct {
	Backend     string        `json:"backend" mapstructure:"backend"`           // rest, postgres
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`         // PostgREST-style endpoint
	RealtimeURL string        `json:"realtime_url" mapstructure:"realtime_url"` // websocket change feed
	DatabaseURL string        `json:"database_url" mapstructure:"database_url"` // postgres backend only
	APIKey      string        `json:"api_key,omitempty" mapstructure:"api_key"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay  time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	RateLimit   float64       `json:"rate_limit" mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	UserAgent   string        `json:"user_agent" mapstructure:"user_agent"`
}

// ServerConfig for the local status API.
type ServerConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"`
}

// StorageConfig for local file paths.
type StorageConfig struct {
	DataDir     string `json:"data_dir" mapstructure:"data_dir"`         // Base directory for all data
	QueuePath   string `json:"queue_path" mapstructure:"queue_path"`     // SQLite pending queue
	WorkerFile  string `json:"worker_file" mapstructure:"worker_file"`   // Current worker context
	TriggerFile string `json:"trigger_file" mapstructure:"trigger_file"` // Touch to request a sync
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	DrainOnStart           bool          `json:"drain_on_start" mapstructure:"drain_on_start"`
	PendingRefreshInterval time.Duration `json:"pending_refresh_interval" mapstructure:"pending_refresh_interval"`
	HistoryRetention       time.Duration `json:"history_retention" mapstructure:"history_retention"` // 0 keeps everything
	HistoryLimit           int           `json:"history_limit" mapstructure:"history_limit"`
	ProbeTimeout           time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"`           // text, json
	File       string `json:"file" mapstructure:"file"`               // Log file path (empty = stdout)
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // Max log file size in MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // Max number of old logs
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // Max age in days
	Color      bool   `json:"color" mapstructure:"color"`             // Enable colored output
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".visitsync"

	return &Config{
		API: APIConfig{
			Backend:    BackendREST,
			BaseURL:    "http://localhost:54321",
			Timeout:    15 * time.Second,
			MaxRetries: 2,
			RetryDelay: 500 * time.Millisecond,
			RateLimit:  10,
			UserAgent:  "visitsync/1.0",
		},
		Server: ServerConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:7777",
		},
		Storage: StorageConfig{
			DataDir:     dataDir,
			QueuePath:   filepath.Join(dataDir, "queue.db"),
			WorkerFile:  filepath.Join(dataDir, "worker.json"),
			TriggerFile: filepath.Join(dataDir, "sync.request"),
		},
		Sync: SyncConfig{
			DrainOnStart:           true,
			PendingRefreshInterval: 5 * time.Second,
			HistoryRetention:       30 * 24 * time.Hour,
			HistoryLimit:           50,
			ProbeTimeout:           5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Color:      true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.API.Backend {
	case BackendREST:
		if c.API.BaseURL == "" {
			return errors.New("api.base_url is required")
		}
	case BackendPostgres:
		if c.API.DatabaseURL == "" {
			return errors.New("api.database_url is required for postgres backend")
		}
	default:
		return fmt.Errorf("invalid api.backend: %s", c.API.Backend)
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries cannot be negative")
	}

	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit cannot be negative")
	}

	if c.Storage.QueuePath == "" {
		return errors.New("storage.queue_path is required")
	}

	if c.Sync.PendingRefreshInterval <= 0 {
		return errors.New("sync.pending_refresh_interval must be positive")
	}

	if c.Sync.HistoryRetention < 0 {
		return errors.New("sync.history_retention cannot be negative")
	}

	if c.Server.Enabled && c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required when server is enabled")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.Storage.QueuePath),
	}

	if c.Storage.WorkerFile != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.WorkerFile))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
