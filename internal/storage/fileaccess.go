package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/platform/logging"
)

// FileAccess pairs a local scratch sandbox with the remote proxy of the
// configured backend.
type FileAccess struct {
	localSandbox    string
	rawOutputPrefix string
	remote          Proxy
	logger          *slog.Logger
	newID           func() string
}

func NewFileAccess(localSandbox string, remote Proxy, rawOutputPrefix string, logger *slog.Logger) (*FileAccess, error) {
	if remote == nil {
		return nil, errors.New("remote proxy is required")
	}
	localSandbox = strings.TrimSpace(localSandbox)
	if localSandbox == "" {
		return nil, failure.Configf("local sandbox directory is required")
	}
	if err := os.MkdirAll(localSandbox, 0o755); err != nil {
		return nil, fmt.Errorf("create local sandbox: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &FileAccess{
		localSandbox:    localSandbox,
		rawOutputPrefix: strings.TrimSpace(rawOutputPrefix),
		remote:          remote,
		logger:          logger,
		newID:           func() string { return uuid.NewString() },
	}, nil
}

func (f *FileAccess) LocalSandbox() string { return f.localSandbox }

func (f *FileAccess) RawOutputPrefix() string { return f.rawOutputPrefix }

func (f *FileAccess) Remote() Proxy { return f.remote }

// RandomLocalDirectory creates a fresh directory inside the sandbox.
func (f *FileAccess) RandomLocalDirectory() (string, error) {
	dir := filepath.Join(f.localSandbox, f.newID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create local directory: %w", err)
	}
	return dir, nil
}

// RandomRemotePath returns an unused location under the raw output prefix.
func (f *FileAccess) RandomRemotePath() (string, error) {
	if f.rawOutputPrefix == "" {
		return "", failure.Configf("no raw output data prefix configured")
	}
	return Join(f.rawOutputPrefix, f.newID()), nil
}

func (f *FileAccess) Exists(ctx context.Context, remotePath string) (bool, error) {
	return f.remote.Exists(ctx, remotePath)
}

// GetData downloads remotePath, creating the parent of localPath if needed.
func (f *FileAccess) GetData(ctx context.Context, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local directory: %w", err)
	}
	f.logger.Debug("get data", logging.Path, remotePath, logging.LocalPath, localPath)
	return f.remote.Get(ctx, remotePath, localPath)
}

func (f *FileAccess) PutData(ctx context.Context, localPath, remotePath string) error {
	f.logger.Debug("put data", logging.LocalPath, localPath, logging.Path, remotePath)
	return f.remote.Put(ctx, localPath, remotePath)
}

func (f *FileAccess) UploadDirectory(ctx context.Context, localDir, remotePrefix string) error {
	f.logger.Debug("upload directory", logging.LocalPath, localDir, logging.Path, remotePrefix)
	return f.remote.UploadDirectory(ctx, localDir, remotePrefix)
}
