package config

import "errors"

var (
	// ErrMissingAPIBaseURL indicates that the API base URL is not configured
	ErrMissingAPIBaseURL = errors.New("apiBaseUrl is required in configuration")

	// ErrMissingDeviceID indicates that no device id is configured
	ErrMissingDeviceID = errors.New("deviceId is required in configuration")

	// ErrMissingDataDir indicates that no data directory is configured
	ErrMissingDataDir = errors.New("dataDir is required in configuration")

	// ErrMissingCredentials indicates neither a token nor a signing secret is set outside dev mode
	ErrMissingCredentials = errors.New("auth.token or auth.jwtSecret is required when not in dev mode")

	// ErrInvalidLogLevel indicates an unknown log level
	ErrInvalidLogLevel = errors.New("invalid logLevel")

	// ErrInvalidSyncSettings indicates a non-positive sync limit or interval
	ErrInvalidSyncSettings = errors.New("invalid sync settings")

	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")
)
