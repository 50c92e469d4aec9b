package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. VISITSYNC_LOG_LEVEL.
const EnvPrefix = "VISITSYNC"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envFiles   []string
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFiles:   []string{".env"},
	}
}

// WithEnvFiles replaces the dotenv files read before the environment is consulted.
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = files
	return l
}

// Load reads configuration from dotenv files, the config file and the environment.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Start with defaults; derived paths stay empty so they follow data_dir
	defaults := DefaultConfig()
	defaults.Storage.QueuePath = ""
	defaults.Storage.WorkerFile = ""
	defaults.Storage.TriggerFile = ""
	registerDefaults(v, "", reflect.ValueOf(*defaults))
	for _, key := range []string{"storage.queue_path", "storage.worker_file", "storage.trigger_file"} {
		_ = v.BindEnv(key)
	}

	if err := l.readConfigFile(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.Storage.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigPath returns the file the last Load read, if any.
func (l *Loader) ConfigPath() string {
	return l.configPath
}

func (l *Loader) loadEnvFiles() error {
	for _, file := range l.envFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	return nil
}

func (l *Loader) readConfigFile(v *viper.Viper) error {
	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
		return nil
	}

	// Try default locations
	v.SetConfigName("visitsync")
	for _, dir := range l.defaultDirs() {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("load config file: %w", err)
	}

	l.configPath = v.ConfigFileUsed()
	return nil
}

// defaultDirs returns default config file locations.
func (l *Loader) defaultDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "visitsync"),
			filepath.Join(homeDir, ".visitsync"),
		)
	}

	return dirs
}

// registerDefaults walks the config struct so viper knows every key,
// which AutomaticEnv needs for Unmarshal to see environment overrides.
func registerDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			registerDefaults(v, key, fv)
			continue
		}
		if fv.IsZero() && fv.Kind() == reflect.String {
			// keep the key addressable without pinning an empty default
			_ = v.BindEnv(key)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

func (s *StorageConfig) resolvePaths() {
	if s.DataDir == "" {
		s.DataDir = ".visitsync"
	}
	if s.QueuePath == "" {
		s.QueuePath = filepath.Join(s.DataDir, "queue.db")
	}
	if s.WorkerFile == "" {
		s.WorkerFile = filepath.Join(s.DataDir, "worker.json")
	}
	if s.TriggerFile == "" {
		s.TriggerFile = filepath.Join(s.DataDir, "sync.request")
	}
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
