package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "workbench.yaml")

	tests := []struct {
		name          string
		setup         func()
		validate      func(*testing.T, *Config)
		checkFile     func(*testing.T)
		expectedError bool
	}{
		{
			name:  "NewFile_Defaults",
			setup: func() {},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Settings.WriteStorage != "local" {
					t.Errorf("expected default write storage 'local', got '%s'", cfg.Settings.WriteStorage)
				}
				if time.Duration(cfg.Settings.SaveDelay) != 500*time.Millisecond {
					t.Errorf("expected save delay 500ms, got %v", time.Duration(cfg.Settings.SaveDelay))
				}
				if cfg.Settings.MaxStorageFails != 10 {
					t.Errorf("expected max storage fails 10, got %d", cfg.Settings.MaxStorageFails)
				}
				if cfg.Timeline.FPS != 2 {
					t.Errorf("expected timeline fps 2, got %v", cfg.Timeline.FPS)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "write_storage: local") {
					t.Error("config file missing default values")
				}
				if !strings.Contains(string(content), "# Options: local, remote") {
					t.Error("config file missing write_storage options comment")
				}
			},
		},
		{
			name: "ExistingFile_Override",
			setup: func() {
				err := os.WriteFile(configPath, []byte("settings:\n  save_delay: 2s\n  core_keys: [storage]\ntimeline:\n  fps: 5\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if time.Duration(cfg.Settings.SaveDelay) != 2*time.Second {
					t.Errorf("expected save delay 2s, got %v", time.Duration(cfg.Settings.SaveDelay))
				}
				if len(cfg.Settings.CoreKeys) != 1 || cfg.Settings.CoreKeys[0] != "storage" {
					t.Errorf("expected core keys [storage], got %v", cfg.Settings.CoreKeys)
				}
				if cfg.Timeline.FPS != 5 {
					t.Errorf("expected fps 5, got %v", cfg.Timeline.FPS)
				}
				if cfg.Settings.AppNamespace != "workbench" {
					t.Errorf("defaults should survive a partial file, got '%s'", cfg.Settings.AppNamespace)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if strings.Contains(string(content), "app_namespace") {
					t.Error("existing config file should not be rewritten")
				}
			},
		},
		{
			name: "RemoteURL_Env_Override",
			setup: func() {
				t.Setenv(EnvRemoteSettingsURL, "http://settings.example/api/storage")
				err := os.WriteFile(configPath, []byte("settings:\n  remote_url: \"\"\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Settings.RemoteURL != "http://settings.example/api/storage" {
					t.Errorf("expected remote url from env, got '%s'", cfg.Settings.RemoteURL)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if strings.Contains(string(content), "settings.example") {
					t.Error("environment value should NOT be persisted to config file")
				}
			},
		},
		{
			name: "Invalid_YAML",
			setup: func() {
				err := os.WriteFile(configPath, []byte("settings: [not a map]"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "Invalid_WriteStorage",
			setup: func() {
				err := os.WriteFile(configPath, []byte("settings:\n  write_storage: cloud\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "Invalid_TimelineDuration",
			setup: func() {
				err := os.WriteFile(configPath, []byte("timeline:\n  duration: fortnight\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "Same_Namespaces",
			setup: func() {
				err := os.WriteFile(configPath, []byte("settings:\n  app_namespace: core\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Remove(configPath)
			tt.setup()

			cfg, err := Load(configPath)
			if (err != nil) != tt.expectedError {
				t.Fatalf("Load() error = %v, expectedError %v", err, tt.expectedError)
			}
			if err == nil {
				tt.validate(t, cfg)
				tt.checkFile(t)
			}
		})
	}
}

func TestGenerateDefault(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nested", "default_config.yaml")

	err := GenerateDefault(configPath)
	if err != nil {
		t.Fatalf("GenerateDefault() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("GenerateDefault() did not create file")
	}

	// Running again should not fail
	err = GenerateDefault(configPath)
	if err != nil {
		t.Errorf("GenerateDefault() error on second run = %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() of generated file error = %v", err)
	}
	if cfg.Timeline.StateKey != "timeline.state" {
		t.Errorf("expected state key 'timeline.state', got '%s'", cfg.Timeline.StateKey)
	}
}
