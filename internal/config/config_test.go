package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/visitsync/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, config.BackendREST, cfg.API.Backend)
	assert.NotEmpty(t, cfg.API.BaseURL)
	assert.Positive(t, cfg.API.Timeout)
	assert.NotEmpty(t, cfg.Storage.QueuePath)
	assert.Positive(t, cfg.Sync.PendingRefreshInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: "",
		},
		{
			name: "missing base URL",
			modify: func(c *config.Config) {
				c.API.BaseURL = ""
			},
			wantErr: "api.base_url is required",
		},
		{
			name: "postgres without database url",
			modify: func(c *config.Config) {
				c.API.Backend = config.BackendPostgres
			},
			wantErr: "api.database_url is required",
		},
		{
			name: "unknown backend",
			modify: func(c *config.Config) {
				c.API.Backend = "graphql"
			},
			wantErr: "invalid api.backend",
		},
		{
			name: "invalid log level",
			modify: func(c *config.Config) {
				c.Log.Level = "invalid"
			},
			wantErr: "invalid log level",
		},
		{
			name: "negative timeout",
			modify: func(c *config.Config) {
				c.API.Timeout = -1
			},
			wantErr: "api.timeout must be positive",
		},
		{
			name: "zero refresh interval",
			modify: func(c *config.Config) {
				c.Sync.PendingRefreshInterval = 0
			},
			wantErr: "sync.pending_refresh_interval must be positive",
		},
		{
			name: "server without address",
			modify: func(c *config.Config) {
				c.Server.ListenAddr = ""
			},
			wantErr: "server.listen_addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderEnv(t *testing.T) {
	t.Setenv("VISITSYNC_API_BASE_URL", "https://test.example.com")
	t.Setenv("VISITSYNC_API_TIMEOUT", "45s")
	t.Setenv("VISITSYNC_LOG_LEVEL", "DEBUG")
	t.Setenv("VISITSYNC_API_API_KEY", "anon-key")
	t.Setenv("VISITSYNC_STORAGE_DATA_DIR", "/tmp/visitsync-env")

	loader := config.NewLoader("").WithEnvFiles()
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "https://test.example.com", cfg.API.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.API.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "anon-key", cfg.API.APIKey)
	assert.Equal(t, filepath.Join("/tmp/visitsync-env", "queue.db"), cfg.Storage.QueuePath)
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.json")

	configJSON := `{
		"api": {
			"base_url": "https://file.example.com",
			"realtime_url": "wss://file.example.com/realtime"
		},
		"storage": {
			"queue_path": "/var/lib/visitsync/q.db"
		},
		"log": {
			"level": "warn",
			"format": "json"
		}
	}`

	err := os.WriteFile(configPath, []byte(configJSON), 0644)
	require.NoError(t, err)

	loader := config.NewLoader(configPath).WithEnvFiles()
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.API.BaseURL)
	assert.Equal(t, "wss://file.example.com/realtime", cfg.API.RealtimeURL)
	assert.Equal(t, "/var/lib/visitsync/q.db", cfg.Storage.QueuePath)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// untouched sections keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Sync.PendingRefreshInterval)
}

func TestLoaderDotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("VISITSYNC_SYNC_HISTORY_LIMIT=7\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("VISITSYNC_SYNC_HISTORY_LIMIT") })

	cfg, err := config.NewLoader("").WithEnvFiles(envPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.HistoryLimit)
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := config.NewLoader(filepath.Join(t.TempDir(), "absent.json")).WithEnvFiles().Load()
	assert.Error(t, err)
}

func TestConfigEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmpDir, "data")
	cfg.Storage.QueuePath = filepath.Join(tmpDir, "queue", "queue.db")
	cfg.Storage.WorkerFile = filepath.Join(tmpDir, "data", "worker.json")
	cfg.Log.File = filepath.Join(tmpDir, "logs", "app.log")

	err := cfg.EnsureDirectories()
	require.NoError(t, err)

	assert.DirExists(t, cfg.Storage.DataDir)
	assert.DirExists(t, filepath.Dir(cfg.Storage.QueuePath))
	assert.DirExists(t, filepath.Dir(cfg.Log.File))
}
