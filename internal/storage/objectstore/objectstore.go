// Package objectstore implements storage proxies for S3-compatible object
// stores. Amazon S3 and Google Cloud Storage (through its XML API) share the
// same client and differ in URI scheme and endpoint.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/storage"
)

const (
	SchemeS3  = "s3"
	SchemeGCS = "gs"
)

// objectAPI is the subset of *minio.Client used by Proxy.
type objectAPI interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Proxy reads and writes "<scheme>://bucket/key" paths.
type Proxy struct {
	client      objectAPI
	scheme      string
	concurrency int
}

// NewS3 returns a proxy for s3:// paths.
func NewS3(client *minio.Client, concurrency int) (*Proxy, error) {
	return newProxy(client, SchemeS3, concurrency)
}

// NewGCS returns a proxy for gs:// paths. client must point at the Cloud
// Storage XML API endpoint with HMAC credentials.
func NewGCS(client *minio.Client, concurrency int) (*Proxy, error) {
	return newProxy(client, SchemeGCS, concurrency)
}

func newProxy(client *minio.Client, scheme string, concurrency int) (*Proxy, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return &Proxy{client: client, scheme: scheme, concurrency: concurrency}, nil
}

func (p *Proxy) Scheme() string { return p.scheme }

func (p *Proxy) locate(remotePath string) (storage.URI, error) {
	u, err := storage.ParseURI(remotePath)
	if err != nil {
		return storage.URI{}, failure.Config("invalid object path", err)
	}
	if u.Scheme != p.scheme {
		return storage.URI{}, failure.Configf("path %q does not use the %s:// scheme of the configured backend", remotePath, p.scheme)
	}
	if u.Key == "" {
		return storage.URI{}, failure.Configf("path %q names a bucket, not an object", remotePath)
	}
	return u, nil
}

func (p *Proxy) Exists(ctx context.Context, remotePath string) (bool, error) {
	if p == nil || p.client == nil {
		return false, errors.New("object store proxy not initialized")
	}
	u, err := p.locate(remotePath)
	if err != nil {
		return false, err
	}
	_, err = p.client.StatObject(ctx, u.Bucket, u.Key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, requestError("exists", remotePath, err)
	}
	return true, nil
}

func (p *Proxy) Get(ctx context.Context, remotePath, localPath string) error {
	if p == nil || p.client == nil {
		return errors.New("object store proxy not initialized")
	}
	u, err := p.locate(remotePath)
	if err != nil {
		return err
	}
	// FGetObject downloads to a part file and renames it over localPath.
	if err := p.client.FGetObject(ctx, u.Bucket, u.Key, localPath, minio.GetObjectOptions{}); err != nil {
		if isNotFound(err) {
			return failure.Transfer("get", remotePath, fmt.Errorf("%w: %v", storage.ErrNotFound, err))
		}
		return requestError("get", remotePath, err)
	}
	return nil
}

func (p *Proxy) Put(ctx context.Context, localPath, remotePath string) error {
	if p == nil || p.client == nil {
		return errors.New("object store proxy not initialized")
	}
	u, err := p.locate(remotePath)
	if err != nil {
		return err
	}
	opts := minio.PutObjectOptions{ContentType: contentType(localPath)}
	if _, err := p.client.FPutObject(ctx, u.Bucket, u.Key, localPath, opts); err != nil {
		return requestError("put", remotePath, err)
	}
	return nil
}

func (p *Proxy) UploadDirectory(ctx context.Context, localDir, remotePrefix string) error {
	return storage.UploadTree(ctx, localDir, remotePrefix, p.concurrency, p.Put)
}

// isNotFound reports a missing object. A missing bucket does not count.
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return true
	case "NoSuchBucket":
		return false
	}
	return resp.StatusCode == http.StatusNotFound
}

// requestError classifies a failed request; a missing bucket is a
// configuration error and is not retried.
func requestError(op, remotePath string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
		return failure.Config(fmt.Sprintf("%s %s", op, remotePath), err)
	}
	return failure.Transfer(op, remotePath, err)
}

func contentType(localPath string) string {
	switch filepath.Ext(localPath) {
	case ".pb":
		return "application/x-protobuf"
	case "":
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
