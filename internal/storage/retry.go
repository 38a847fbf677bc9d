package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/platform/logging"
)

// RetryPolicy bounds every storage operation.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Timeout bounds a single attempt. Zero means no per-attempt bound.
	Timeout time.Duration
	// Backoff is the wait before the second attempt; it doubles afterwards.
	Backoff time.Duration
	// Concurrency bounds parallel uploads in UploadDirectory.
	Concurrency int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Timeout: 5 * time.Minute, Backoff: time.Second, Concurrency: 4}
}

type retrying struct {
	next   Proxy
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps next so transient transfer failures are retried. Repeated
// failures return the last error.
func WithRetry(next Proxy, policy RetryPolicy, logger *slog.Logger) Proxy {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &retrying{next: next, policy: policy, logger: logger, sleep: sleepContext}
}

func (r *retrying) Exists(ctx context.Context, remotePath string) (bool, error) {
	var ok bool
	err := r.do(ctx, "exists", remotePath, func(ctx context.Context) error {
		var err error
		ok, err = r.next.Exists(ctx, remotePath)
		return err
	})
	return ok, err
}

func (r *retrying) Get(ctx context.Context, remotePath, localPath string) error {
	return r.do(ctx, "get", remotePath, func(ctx context.Context) error {
		return r.next.Get(ctx, remotePath, localPath)
	})
}

func (r *retrying) Put(ctx context.Context, localPath, remotePath string) error {
	return r.do(ctx, "put", remotePath, func(ctx context.Context) error {
		return r.next.Put(ctx, localPath, remotePath)
	})
}

// UploadDirectory retries per file rather than restarting the whole tree.
func (r *retrying) UploadDirectory(ctx context.Context, localDir, remotePrefix string) error {
	return UploadTree(ctx, localDir, remotePrefix, r.policy.Concurrency, r.Put)
}

func (r *retrying) do(ctx context.Context, op, path string, fn func(ctx context.Context) error) error {
	backoff := r.policy.Backoff
	for attempt := 1; ; attempt++ {
		err := r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !failure.IsRetryable(err) || errors.Is(err, ErrNotFound) || attempt >= r.policy.Attempts {
			return err
		}
		r.logger.Warn("storage operation failed, retrying",
			"op", op,
			logging.Path, path,
			logging.Attempt, attempt,
			logging.Error, err,
		)
		if serr := r.sleep(ctx, backoff); serr != nil {
			return err
		}
		backoff *= 2
	}
}

func (r *retrying) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
