package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvRemoteSettingsURL overrides settings.remote_url when the file leaves it
// empty.
const EnvRemoteSettingsURL = "WORKBENCH_REMOTE_SETTINGS_URL"

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Request  RequestConfig  `yaml:"request"`
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Settings SettingsConfig `yaml:"settings"`
	Timeline TimelineConfig `yaml:"timeline"`
}

// RequestConfig holds HTTP request settings for the remote storage client.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// SettingsConfig holds the settings engine knobs and storage locations.
type SettingsConfig struct {
	AppNamespace    string   `yaml:"app_namespace"`
	CoreNamespace   string   `yaml:"core_namespace"`
	CoreKeys        []string `yaml:"core_keys"`
	WriteStorage    string   `yaml:"write_storage"`
	SaveDelay       Duration `yaml:"save_delay"`
	ReloadDelay     Duration `yaml:"reload_delay"`
	MaxStorageFails int      `yaml:"max_storage_fails"`
	AdminFile       string   `yaml:"admin_file"`
	TOMLFile        string   `yaml:"toml_file"`
	RemoteURL       string   `yaml:"remote_url"`
	// HostDB backs the storage this instance serves to remote peers. Empty
	// disables the storage host.
	HostDB string `yaml:"host_db"`
}

// TimelineConfig holds the timeline controller defaults.
type TimelineConfig struct {
	FPS        float64  `yaml:"fps"`
	ResetDelay Duration `yaml:"reset_delay"`
	Duration   string   `yaml:"duration"`
	// StateKey is the raw state key the controller is persisted under.
	StateKey string `yaml:"state_key"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "localhost:1921",
		},
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(30 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/workbench.db",
		},
		Settings: SettingsConfig{
			AppNamespace:    "workbench",
			CoreNamespace:   "core",
			CoreKeys:        []string{"storage", "reset"},
			WriteStorage:    "local",
			SaveDelay:       Duration(500 * time.Millisecond),
			ReloadDelay:     Duration(500 * time.Millisecond),
			MaxStorageFails: 10,
			AdminFile:       "./configs/admin.yaml",
			TOMLFile:        "",
			HostDB:          "./data/hosted.db",
		},
		Timeline: TimelineConfig{
			FPS:        2,
			ResetDelay: Duration(50 * time.Millisecond),
			Duration:   "day",
			StateKey:   "timeline.state",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// An existing file is merged over the defaults and never written back.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	if cfg.Settings.RemoteURL == "" {
		cfg.Settings.RemoteURL = os.Getenv(EnvRemoteSettingsURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine and controller cannot run with.
func (c *Config) Validate() error {
	switch c.Settings.WriteStorage {
	case "local", "remote":
	default:
		return fmt.Errorf("invalid settings.write_storage '%s': must be 'local' or 'remote'", c.Settings.WriteStorage)
	}
	if c.Settings.AppNamespace == "" || c.Settings.CoreNamespace == "" {
		return fmt.Errorf("settings namespaces must not be empty")
	}
	if c.Settings.AppNamespace == c.Settings.CoreNamespace {
		return fmt.Errorf("settings.app_namespace and settings.core_namespace must differ")
	}
	if c.Timeline.FPS <= 0 {
		return fmt.Errorf("invalid timeline.fps %v: must be positive", c.Timeline.FPS)
	}
	if !validDuration.MatchString(c.Timeline.Duration) {
		return fmt.Errorf("invalid timeline.duration '%s'", c.Timeline.Duration)
	}
	return nil
}

var validDuration = regexp.MustCompile(`^(hour|day|week|month|year|custom)$`)

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Workbench Configuration
# -----------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)

`)
	data = append(header, data...)

	reStorage := regexp.MustCompile(`(?m)^(\s+)write_storage:`)
	data = reStorage.ReplaceAll(data, []byte("${1}# Options: local, remote\n${1}write_storage:"))

	reDuration := regexp.MustCompile(`(?m)^(\s+)duration:`)
	data = reDuration.ReplaceAll(data, []byte("${1}# Options: hour, day, week, month, year, custom\n${1}duration:"))

	reRemote := regexp.MustCompile(`(?m)^(\s+)remote_url:`)
	data = reRemote.ReplaceAll(data, []byte("${1}# Falls back to $"+EnvRemoteSettingsURL+"\n${1}remote_url:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
