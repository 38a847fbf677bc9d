// Package storage abstracts the remote object namespace tasks read inputs
// from and write outputs to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Proxy is implemented once per storage backend.
//
// Get overwrites localPath if it exists, so it is safe to retry. Put and
// UploadDirectory overwrite remote objects. UploadDirectory is not
// transactional: a failure part way leaves the objects uploaded so far.
type Proxy interface {
	Exists(ctx context.Context, remotePath string) (bool, error)
	Get(ctx context.Context, remotePath, localPath string) error
	Put(ctx context.Context, localPath, remotePath string) error
	UploadDirectory(ctx context.Context, localDir, remotePrefix string) error
}

// ErrNotFound is wrapped by Get when the remote object does not exist.
var ErrNotFound = errors.New("object not found")

// Join appends slash separated elements to a path or URI without collapsing
// the "scheme://" separator.
func Join(base string, elems ...string) string {
	scheme, rest, ok := strings.Cut(base, "://")
	if !ok {
		return path.Join(append([]string{base}, elems...)...)
	}
	joined := path.Join(append([]string{rest}, elems...)...)
	if joined == "." {
		joined = ""
	}
	return scheme + "://" + joined
}

// URI is a parsed bucket-style location.
type URI struct {
	Scheme string
	Bucket string
	Key    string
}

func (u URI) String() string {
	if u.Key == "" {
		return u.Scheme + "://" + u.Bucket
	}
	return u.Scheme + "://" + u.Bucket + "/" + u.Key
}

// ParseURI splits "scheme://bucket/key". The key may be empty.
func ParseURI(raw string) (URI, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(raw), "://")
	if !ok || scheme == "" {
		return URI{}, fmt.Errorf("path %q has no scheme", raw)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return URI{}, fmt.Errorf("path %q has no bucket", raw)
	}
	return URI{Scheme: strings.ToLower(scheme), Bucket: bucket, Key: strings.Trim(key, "/")}, nil
}
