// Package backend selects the storage proxy for the configured cloud
// provider.
package backend

import (
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/animus-labs/taskexec/internal/config"
	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/platform/logging"
	"github.com/animus-labs/taskexec/internal/platform/objectstore"
	"github.com/animus-labs/taskexec/internal/storage"
	"github.com/animus-labs/taskexec/internal/storage/local"
	storeobj "github.com/animus-labs/taskexec/internal/storage/objectstore"
)

// DefaultLocalDir is the scratch directory under the sandbox when no raw
// output data prefix is given.
const DefaultLocalDir = "local_taskexec"

type Settings struct {
	Provider config.CloudProvider
	S3       objectstore.Config
	GCS      objectstore.Config
	Retry    storage.RetryPolicy
	Logger   *slog.Logger
}

// FromConfig derives backend settings from the resolved configuration.
func FromConfig(cfg config.Config, logger *slog.Logger) Settings {
	return Settings{
		Provider: cfg.Platform.CloudProvider,
		S3:       cfg.Storage.S3,
		GCS:      cfg.Storage.GCS,
		Retry:    RetryPolicy(cfg.Storage),
		Logger:   logger,
	}
}

func RetryPolicy(s config.Storage) storage.RetryPolicy {
	return storage.RetryPolicy{
		Attempts:    s.Retries,
		Timeout:     s.Timeout,
		Backoff:     s.Backoff,
		Concurrency: s.UploadConcurrency,
	}
}

// New builds the proxy for s.Provider wrapped with the retry policy. An
// unknown provider fails before any client is created.
func New(ctx context.Context, s Settings) (storage.Proxy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	var (
		proxy storage.Proxy
		err   error
	)
	switch s.Provider {
	case config.ProviderLocal:
		proxy = local.New(s.Retry.Concurrency)
	case config.ProviderAWS:
		proxy, err = newS3(s.S3, s.Retry.Concurrency)
	case config.ProviderGCP:
		proxy, err = newGCS(s.GCS, s.Retry.Concurrency)
	default:
		return nil, failure.Configf("unknown cloud provider %q (want %s, %s or %s)",
			s.Provider, config.ProviderLocal, config.ProviderAWS, config.ProviderGCP)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("storage backend ready", logging.Provider, string(s.Provider))
	return storage.WithRetry(proxy, s.Retry, logger), nil
}

// LocalRoot is the local scratch directory of a run: the raw output data
// prefix, stripped of its scheme, below the sandbox. Prefixes that would
// leave the sandbox fall back to DefaultLocalDir.
func LocalRoot(sandbox, rawOutputDataPrefix string) string {
	dir := DefaultLocalDir
	if raw := strings.TrimSpace(rawOutputDataPrefix); raw != "" {
		if _, rest, ok := strings.Cut(raw, "://"); ok {
			raw = rest
		}
		if rel := path.Clean("/" + raw); !slices.Contains(strings.Split(raw, "/"), "..") && rel != "/" {
			dir = filepath.FromSlash(strings.TrimPrefix(rel, "/"))
		}
	}
	return filepath.Join(sandbox, dir)
}

func newS3(cfg objectstore.Config, concurrency int) (storage.Proxy, error) {
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, failure.Config("s3 client", err)
	}
	return storeobj.NewS3(client, concurrency)
}

// newGCS requires HMAC keys; the ambient AWS credential chain does not apply
// to Cloud Storage.
func newGCS(cfg objectstore.Config, concurrency int) (storage.Proxy, error) {
	if !cfg.HasStaticKeys() {
		return nil, failure.Configf("gcs requires HMAC access and secret keys")
	}
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, failure.Config("gcs client", err)
	}
	return storeobj.NewGCS(client, concurrency)
}
