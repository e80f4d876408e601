package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"FIELDSYNC_API_BASE_URL", "FIELDSYNC_DEVICE_ID", "FIELDSYNC_ACCOUNT_ID", "FIELDSYNC_DATA_DIR",
	"FIELDSYNC_TOKEN", "FIELDSYNC_JWT_SECRET", "FIELDSYNC_CONNECTIVITY_FILE", "FIELDSYNC_DEV_MODE",
	"FIELDSYNC_LOG_LEVEL", "FIELDSYNC_LOG_FILE",
}

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		checks  func(*testing.T, *Config)
	}{
		{
			name: "defaults when no env set",
			checks: func(t *testing.T, cfg *Config) {
				if cfg.APIBaseURL != "http://localhost:8081" {
					t.Errorf("expected default APIBaseURL, got %s", cfg.APIBaseURL)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("expected default LogLevel=info, got %s", cfg.LogLevel)
				}
				if cfg.Sync.BatchSize != 10 || cfg.Sync.ForegroundInterval.Duration != 5*time.Minute {
					t.Errorf("unexpected sync defaults: %+v", cfg.Sync)
				}
			},
		},
		{
			name: "all overrides",
			envVars: map[string]string{
				"FIELDSYNC_API_BASE_URL":      "https://sync.example.com",
				"FIELDSYNC_DEVICE_ID":         "tablet-7",
				"FIELDSYNC_ACCOUNT_ID":        "acct-1",
				"FIELDSYNC_DATA_DIR":          "/var/lib/fieldsync",
				"FIELDSYNC_TOKEN":             "tok",
				"FIELDSYNC_JWT_SECRET":        "s3cret",
				"FIELDSYNC_CONNECTIVITY_FILE": "/tmp/online",
				"FIELDSYNC_DEV_MODE":          "1",
				"FIELDSYNC_LOG_LEVEL":         "debug",
				"FIELDSYNC_LOG_FILE":          "/tmp/fieldsync.log",
			},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.APIBaseURL != "https://sync.example.com" || cfg.DeviceID != "tablet-7" || cfg.Subject() != "acct-1" {
					t.Errorf("unexpected identity: %+v", cfg)
				}
				if cfg.DataDir != "/var/lib/fieldsync" || cfg.DBPath() != "/var/lib/fieldsync/fieldsync.db" {
					t.Errorf("unexpected data dir: %s", cfg.DataDir)
				}
				if cfg.Auth.Token != "tok" || cfg.Auth.JWTSecret != "s3cret" {
					t.Errorf("unexpected auth: %+v", cfg.Auth)
				}
				if !cfg.DevMode || cfg.LogLevel != "debug" || cfg.LogFile != "/tmp/fieldsync.log" || cfg.ConnectivityFile != "/tmp/online" {
					t.Errorf("unexpected flags: %+v", cfg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.envVars)

			cfg, err := LoadFromEnvironment()
			if err != nil {
				t.Fatalf("LoadFromEnvironment() error = %v", err)
			}
			tt.checks(t, cfg)
		})
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	path := filepath.Join(tmpDir, "fieldsync.json")
	if err := os.WriteFile(path, []byte(`{
  "apiBaseUrl": "http://test-api:8080",
  "deviceId": "dev-from-file",
  "logLevel": "debug",
  "sync": {"batchSize": 25, "cycleTimeout": "45s"}
}`), 0644); err != nil {
		t.Fatalf("failed to create test config file: %v", err)
	}

	badPath := filepath.Join(tmpDir, "bad.json")
	os.WriteFile(badPath, []byte(`{"sync": {"cycleTimeout": 45}}`), 0644)

	tests := []struct {
		name       string
		configPath string
		envVars    map[string]string
		wantErr    error
		checks     func(*testing.T, *Config)
	}{
		{
			name:       "file values layered over defaults",
			configPath: path,
			checks: func(t *testing.T, cfg *Config) {
				if cfg.APIBaseURL != "http://test-api:8080" || cfg.DeviceID != "dev-from-file" {
					t.Errorf("unexpected file values: %+v", cfg)
				}
				if cfg.Sync.BatchSize != 25 || cfg.Sync.CycleTimeout.Duration != 45*time.Second {
					t.Errorf("unexpected sync values: %+v", cfg.Sync)
				}
				if cfg.Sync.BackgroundBatchSize != 5 || cfg.Sync.Debounce.Duration != 2*time.Second {
					t.Errorf("defaults lost for keys absent from file: %+v", cfg.Sync)
				}
			},
		},
		{
			name:       "env overrides file",
			configPath: path,
			envVars:    map[string]string{"FIELDSYNC_DEVICE_ID": "dev-from-env"},
			checks: func(t *testing.T, cfg *Config) {
				if cfg.DeviceID != "dev-from-env" {
					t.Errorf("expected env override, got %s", cfg.DeviceID)
				}
			},
		},
		{
			name:       "missing file",
			configPath: filepath.Join(tmpDir, "nope.json"),
			wantErr:    ErrConfigFileNotFound,
		},
		{
			name:       "non-string duration",
			configPath: badPath,
			wantErr:    ErrInvalidConfigFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.envVars)

			cfg, err := Load(tt.configPath)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.checks(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.DeviceID = "d1"
		cfg.DataDir = t.TempDir()
		cfg.Auth.JWTSecret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"dev mode needs no credentials", func(c *Config) { c.Auth.JWTSecret = ""; c.DevMode = true }, nil},
		{"missing base url", func(c *Config) { c.APIBaseURL = "" }, ErrMissingAPIBaseURL},
		{"missing device", func(c *Config) { c.DeviceID = "" }, ErrMissingDeviceID},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, ErrMissingDataDir},
		{"missing credentials", func(c *Config) { c.Auth.JWTSecret = "" }, ErrMissingCredentials},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, ErrInvalidLogLevel},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }, ErrInvalidSyncSettings},
		{"zero timeout", func(c *Config) { c.Sync.CycleTimeout.Duration = 0 }, ErrInvalidSyncSettings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
