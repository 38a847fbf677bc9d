package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// PutFunc uploads a single local file.
type PutFunc func(ctx context.Context, localPath, remotePath string) error

// UploadTree uploads every regular file below localDir to remotePrefix,
// keeping relative paths. At most concurrency uploads run at once. The first
// failure stops further uploads and is returned; objects already written are
// left in place.
func UploadTree(ctx context.Context, localDir, remotePrefix string, concurrency int, put PutFunc) error {
	info, err := os.Stat(localDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", localDir)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	walkErr := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		remote := Join(remotePrefix, filepath.ToSlash(rel))
		g.Go(func() error {
			return put(gctx, p, remote)
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return walkErr
}
