package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the fieldsync client
type Config struct {
	APIBaseURL string `json:"apiBaseUrl"`
	DeviceID   string `json:"deviceId"`
	AccountID  string `json:"accountId,omitempty"` // token subject; defaults to DeviceID
	DataDir    string `json:"dataDir"`

	Auth AuthConfig `json:"auth"`
	Sync SyncConfig `json:"sync"`

	// ConnectivityFile switches connectivity detection from probing the
	// server to watching a flag file
	ConnectivityFile string `json:"connectivityFile,omitempty"`

	DevMode  bool   `json:"devMode"` // sends X-Debug-Sub instead of a bearer token
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

// AuthConfig selects how the client authenticates. Token wins over JWTSecret.
type AuthConfig struct {
	Token     string `json:"token,omitempty"`     // static bearer token
	JWTSecret string `json:"jwtSecret,omitempty"` // shared HS256 secret for self-minted device tokens
	Issuer    string `json:"issuer,omitempty"`
	Audience  string `json:"audience,omitempty"`
}

// SyncConfig tunes the engine
type SyncConfig struct {
	BatchSize           int      `json:"batchSize"`
	BackgroundBatchSize int      `json:"backgroundBatchSize"`
	MaxRetries          int      `json:"maxRetries"`
	BackgroundMaxRetry  int      `json:"backgroundMaxRetry"`
	ForegroundInterval  Duration `json:"foregroundInterval"`
	BackgroundInterval  Duration `json:"backgroundInterval"`
	CycleTimeout        Duration `json:"cycleTimeout"`
	Debounce            Duration `json:"debounce"`
	ProbeInterval       Duration `json:"probeInterval"`
	InitialLookback     Duration `json:"initialLookback"`
	RequestTimeout      Duration `json:"requestTimeout"`
}

// Duration is a time.Duration written as a string ("5m", "15s") in JSON
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"15s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Subject returns the identity device tokens are minted for
func (c *Config) Subject() string {
	if c.AccountID != "" {
		return c.AccountID
	}
	return c.DeviceID
}

// DBPath is the SQLite file inside DataDir
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "fieldsync.db")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	if c.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if c.DataDir == "" {
		return ErrMissingDataDir
	}
	if !c.DevMode && c.Auth.Token == "" && c.Auth.JWTSecret == "" {
		return ErrMissingCredentials
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}

	s := c.Sync
	if s.BatchSize <= 0 || s.BackgroundBatchSize <= 0 || s.MaxRetries <= 0 || s.BackgroundMaxRetry <= 0 {
		return fmt.Errorf("%w: batch sizes and retry limits must be positive", ErrInvalidSyncSettings)
	}
	for name, d := range map[string]Duration{
		"foregroundInterval": s.ForegroundInterval,
		"backgroundInterval": s.BackgroundInterval,
		"cycleTimeout":       s.CycleTimeout,
		"debounce":           s.Debounce,
		"probeInterval":      s.ProbeInterval,
		"initialLookback":    s.InitialLookback,
		"requestTimeout":     s.RequestTimeout,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidSyncSettings, name)
		}
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL: "http://localhost:8081",
		DataDir:    defaultDataDir(),
		LogLevel:   "info",
		Sync: SyncConfig{
			BatchSize:           10,
			BackgroundBatchSize: 5,
			MaxRetries:          5,
			BackgroundMaxRetry:  3,
			ForegroundInterval:  Duration{5 * time.Minute},
			BackgroundInterval:  Duration{15 * time.Second},
			CycleTimeout:        Duration{2 * time.Minute},
			Debounce:            Duration{2 * time.Second},
			ProbeInterval:       Duration{15 * time.Second},
			InitialLookback:     Duration{24 * time.Hour},
			RequestTimeout:      Duration{30 * time.Second},
		},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".fieldsync")
	}
	return ".fieldsync"
}
