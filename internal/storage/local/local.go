// Package local implements a storage proxy on the local disk using diskv.
// Remote paths are file paths and are read and written where they point, so
// a local run exercises the same code paths as an object store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/peterbourgon/diskv/v3"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/storage"
)

const Scheme = "file"

// Proxy stores objects as plain files on the local filesystem.
type Proxy struct {
	dv          *diskv.Diskv
	concurrency int
}

func New(concurrency int) *Proxy {
	dv := diskv.New(diskv.Options{
		BasePath:          string(filepath.Separator),
		AdvancedTransform: toPathKey,
		InverseTransform:  fromPathKey,
		PathPerm:          0o755,
		FilePerm:          0o644,
	})
	return &Proxy{dv: dv, concurrency: concurrency}
}

func toPathKey(key string) *diskv.PathKey {
	parts := strings.Split(key, "/")
	last := len(parts) - 1
	return &diskv.PathKey{Path: parts[:last], FileName: parts[last]}
}

func fromPathKey(pk *diskv.PathKey) string {
	parts := append(append([]string{}, pk.Path...), pk.FileName)
	return strings.Join(parts, "/")
}

// Key maps a remote path ("file:///a/b", "/a/b" or "a/b") to the slash
// separated absolute path of the file, without its leading slash. Relative
// paths resolve against the working directory.
func Key(remotePath string) (string, error) {
	p := strings.TrimPrefix(strings.TrimSpace(remotePath), Scheme+"://")
	if p == "" {
		return "", fmt.Errorf("path %q is empty", remotePath)
	}
	if !path.IsAbs(p) {
		abs, err := filepath.Abs(filepath.FromSlash(p))
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", remotePath, err)
		}
		p = filepath.ToSlash(abs)
	}
	key := strings.TrimPrefix(path.Clean(p), "/")
	if key == "" {
		return "", fmt.Errorf("path %q names the filesystem root", remotePath)
	}
	return key, nil
}

func (p *Proxy) Exists(ctx context.Context, remotePath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, failure.Transfer("exists", remotePath, err)
	}
	key, err := Key(remotePath)
	if err != nil {
		return false, failure.Config("local storage path", err)
	}
	return p.dv.Has(key), nil
}

func (p *Proxy) Get(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return failure.Transfer("get", remotePath, err)
	}
	key, err := Key(remotePath)
	if err != nil {
		return failure.Config("local storage path", err)
	}
	rc, err := p.dv.ReadStream(key, true)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return failure.Transfer("get", remotePath, storage.ErrNotFound)
		}
		return failure.Transfer("get", remotePath, err)
	}
	defer func() { _ = rc.Close() }()
	if err := writeAtomic(localPath, rc); err != nil {
		return failure.Transfer("get", remotePath, err)
	}
	return nil
}

func (p *Proxy) Put(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return failure.Transfer("put", remotePath, err)
	}
	key, err := Key(remotePath)
	if err != nil {
		return failure.Config("local storage path", err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()
	if err := p.dv.WriteStream(key, f, true); err != nil {
		return failure.Transfer("put", remotePath, err)
	}
	return nil
}

func (p *Proxy) UploadDirectory(ctx context.Context, localDir, remotePrefix string) error {
	return storage.UploadTree(ctx, localDir, remotePrefix, p.concurrency, p.Put)
}

// writeAtomic replaces dst with the contents of r.
func writeAtomic(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".get-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
