package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatrelay/adapter"
	"github.com/pithecene-io/chatrelay/adapter/redis"
	"github.com/pithecene-io/chatrelay/adapter/webhook"
	"github.com/pithecene-io/chatrelay/cli/config"
	"github.com/pithecene-io/chatrelay/log"
	"github.com/pithecene-io/chatrelay/transcript"
)

// Exit codes.
const (
	exitSuccess     = 0
	exitFailure     = 1
	exitConfigError = 2
)

// loadConfig resolves the config file and environment, then applies the
// command's flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, err
	}
	applyStorageFlags(c, &cfg.Storage)
	if err := applyAdapterFlags(c, &cfg.Adapter); err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyStorageFlags(c *cli.Context, s *config.StorageConfig) {
	setString(c, "storage-backend", &s.Backend)
	setString(c, "storage-path", &s.Path)
	setString(c, "storage-dataset", &s.Dataset)
	setString(c, "storage-s3-region", &s.Region)
	setString(c, "storage-s3-endpoint", &s.Endpoint)
	if c.IsSet("storage-s3-path-style") {
		s.S3PathStyle = c.Bool("storage-s3-path-style")
	}
}

func applyAdapterFlags(c *cli.Context, a *config.AdapterConfig) error {
	setString(c, "adapter", &a.Type)
	setString(c, "adapter-url", &a.URL)
	setString(c, "adapter-channel", &a.Channel)
	if c.IsSet("adapter-timeout") {
		a.Timeout = config.Duration{Duration: c.Duration("adapter-timeout")}
	}
	if c.IsSet("adapter-retries") {
		n := c.Int("adapter-retries")
		a.Retries = &n
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("invalid --adapter-header %q (must be key=value)", h)
		}
		if a.Headers == nil {
			a.Headers = make(map[string]string)
		}
		a.Headers[strings.TrimSpace(k)] = v
	}
	return nil
}

func setString(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}

// newLogger builds the command logger at the configured level.
func newLogger(c *cli.Context, cfg *config.Config, component string) (*log.Logger, error) {
	logger := log.NewLoggerWithWriter(component, c.App.ErrWriter)
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return logger, nil
}

// openStore opens the transcript store for sessionID, continuing after prior
// stored messages. It returns nil when storage is disabled (no path and not
// the memory backend).
func openStore(ctx context.Context, s config.StorageConfig, sessionID string, prior int) (*transcript.Store, error) {
	cfg := transcript.Config{Dataset: s.Dataset, SessionID: sessionID, PriorMessages: int64(prior)}
	switch s.Backend {
	case "memory":
		return transcript.NewStoreWithFactory(cfg, lode.NewMemoryFactory())
	case "s3":
		if s.Path == "" {
			return nil, errors.New("s3 storage requires --storage-path bucket/prefix")
		}
		return transcript.NewS3Store(ctx, cfg, s3Config(s))
	case "fs", "":
		if s.Path == "" {
			return nil, nil
		}
		if err := os.MkdirAll(s.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		return transcript.NewStore(cfg, s.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be fs, s3, or memory)", s.Backend)
	}
}

// openDataset opens the transcript dataset for reading. A missing fs path
// is reported as transcript.ErrNotFound.
func openDataset(ctx context.Context, s config.StorageConfig) (lode.Dataset, error) {
	if s.Path == "" {
		return nil, errors.New("--storage-path is required")
	}
	dataset := s.Dataset
	if dataset == "" {
		dataset = transcript.DefaultDataset
	}

	var factory lode.StoreFactory
	switch s.Backend {
	case "s3":
		f, err := transcript.S3Factory(ctx, s3Config(s))
		if err != nil {
			return nil, err
		}
		factory = f
	case "fs", "":
		if _, err := os.Stat(s.Path); err != nil {
			return nil, transcript.WrapInitError(err, dataset)
		}
		factory = lode.NewFSFactory(s.Path)
	default:
		return nil, fmt.Errorf("storage backend %s cannot be read back", s.Backend)
	}
	return transcript.NewDataset(dataset, factory)
}

func s3Config(s config.StorageConfig) transcript.S3Config {
	bucket, prefix := transcript.ParseS3Path(s.Path)
	return transcript.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       s.Region,
		Endpoint:     s.Endpoint,
		UsePathStyle: s.S3PathStyle,
	}
}

// buildAdapter creates the configured adapter, or nil when none is set.
func buildAdapter(a config.AdapterConfig) (adapter.Adapter, error) {
	switch a.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		return webhook.New(webhook.Config{
			URL:     a.URL,
			Headers: a.Headers,
			Timeout: a.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		retries := redis.DefaultRetries
		if a.Retries != nil {
			retries = *a.Retries
		}
		return redis.New(redis.Config{
			URL:     a.URL,
			Channel: a.Channel,
			Timeout: a.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter: %s (must be webhook or redis)", a.Type)
	}
}
