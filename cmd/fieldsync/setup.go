package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/config"
	"github.com/erauner12/fieldsync/internal/dispatch"
	"github.com/erauner12/fieldsync/internal/engine"
	"github.com/erauner12/fieldsync/internal/kvstore"
	"github.com/erauner12/fieldsync/internal/netmon"
	"github.com/erauner12/fieldsync/internal/queue"
	"github.com/erauner12/fieldsync/internal/reconcile"
	"github.com/erauner12/fieldsync/internal/remote"
	"github.com/erauner12/fieldsync/internal/retry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// client is the wired sync stack for one command invocation
type client struct {
	cfg     *config.Config
	kv      *kvstore.SQLite
	monitor *netmon.Monitor
	engine  *engine.Engine
	applier *reconcile.KVApplier
}

// loadConfig loads the configuration from file and environment, then
// applies flag overrides before validating
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	if devMode {
		cfg.DevMode = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if apiURL != "" {
		cfg.APIBaseURL = apiURL
	}
	if deviceID != "" {
		cfg.DeviceID = deviceID
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// setupLogging configures the global logger. Console output goes to stderr;
// when LogFile is set JSON lines are also written to a rotated file.
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	log.Logger = zerolog.New(out).With().
		Timestamp().
		Str("deviceId", cfg.DeviceID).
		Logger()
}

// tokenProvider picks the client's credentials: a static token, a
// self-minted device token, or none in dev mode
func tokenProvider(cfg *config.Config) (remote.TokenProvider, error) {
	switch {
	case cfg.Auth.Token != "":
		return remote.StaticToken(cfg.Auth.Token), nil
	case cfg.Auth.JWTSecret != "":
		signer, err := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience, auth.DefaultTokenTTL)
		if err != nil {
			return nil, err
		}
		return remote.NewSignedTokenProvider(signer, cfg.Subject()), nil
	default:
		return nil, nil
	}
}

// connectivity picks the provider: a flag file when configured, else a
// health probe against the server
func connectivity(cfg *config.Config) netmon.Provider {
	if cfg.ConnectivityFile != "" {
		return netmon.NewFileProvider(cfg.ConnectivityFile)
	}
	return netmon.NewProbeProvider(cfg.APIBaseURL, cfg.Sync.ProbeInterval.Duration, cfg.Sync.RequestTimeout.Duration)
}

// newClient opens storage and wires the engine. The engine is restored but
// not started; run starts it.
func newClient(ctx context.Context, cfg *config.Config) (*client, error) {
	logger := log.Logger

	kv, err := kvstore.OpenSQLite(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
	}

	tokens, err := tokenProvider(cfg)
	if err != nil {
		kv.Close()
		return nil, err
	}

	opts := remote.Options{
		DeviceID: cfg.DeviceID,
		Timeout:  cfg.Sync.RequestTimeout.Duration,
		Logger:   &logger,
	}
	if tokens == nil {
		opts.DebugSub = cfg.Subject()
	}
	httpClient := remote.NewHTTPClient(cfg.APIBaseURL, tokens, opts)

	disp, err := dispatch.NewRemote(httpClient)
	if err != nil {
		kv.Close()
		return nil, err
	}

	applier := reconcile.NewKVApplier(kv)
	recon := reconcile.New(remote.NewDeltaClient(httpClient, 0, 0), applier, reconcile.Options{
		DeviceID:        cfg.DeviceID,
		InitialLookback: cfg.Sync.InitialLookback.Duration,
		Logger:          &logger,
	})

	mon := netmon.New(connectivity(cfg), netmon.Options{
		Debounce: cfg.Sync.Debounce.Duration,
		Logger:   &logger,
	})
	if err := mon.Start(ctx); err != nil {
		kv.Close()
		return nil, err
	}

	eng, err := engine.New(engine.Deps{
		Queue:      queue.New(kv, queue.Options{Logger: &logger}),
		KV:         kv,
		Dispatcher: disp,
		Reconciler: recon,
		Network:    mon,
	}, engine.Options{
		BatchSize:           cfg.Sync.BatchSize,
		BackgroundBatchSize: cfg.Sync.BackgroundBatchSize,
		ForegroundInterval:  cfg.Sync.ForegroundInterval.Duration,
		BackgroundInterval:  cfg.Sync.BackgroundInterval.Duration,
		CycleTimeout:        cfg.Sync.CycleTimeout.Duration,
		Policy: retry.Policy{
			MaxRetries:         cfg.Sync.MaxRetries,
			BackgroundMaxRetry: cfg.Sync.BackgroundMaxRetry,
		},
		Logger: &logger,
	})
	if err != nil {
		mon.Close()
		kv.Close()
		return nil, err
	}

	return &client{cfg: cfg, kv: kv, monitor: mon, engine: eng, applier: applier}, nil
}

// Close stops the engine before the monitor and storage it depends on
func (c *client) Close() {
	c.engine.Close()
	c.monitor.Close()
	if err := c.kv.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close local store")
	}
}

// withClient loads config, sets up logging and runs fn with a restored client
func withClient(ctx context.Context, fn func(ctx context.Context, c *client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	c, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}
