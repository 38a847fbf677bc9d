package objectstore

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/storage"
	"github.com/animus-labs/taskexec/internal/storage/storagetest"
)

// fakeAPI stores objects by "bucket/key".
type fakeAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}, types: map[string]string{}}
}

func notFound() error {
	return minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound, Message: "The specified key does not exist."}
}

// absentBucket answers every request with NoSuchBucket.
const absentBucket = "absent"

func noSuchBucket() error {
	return minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound, Message: "The specified bucket does not exist."}
}

func (f *fakeAPI) StatObject(_ context.Context, bucket, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if bucket == absentBucket {
		return minio.ObjectInfo{}, noSuchBucket()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[bucket+"/"+key]
	if !ok {
		return minio.ObjectInfo{}, notFound()
	}
	return minio.ObjectInfo{Key: key, Size: int64(len(b))}, nil
}

func (f *fakeAPI) FGetObject(_ context.Context, bucket, key, filePath string, _ minio.GetObjectOptions) error {
	if bucket == absentBucket {
		return noSuchBucket()
	}
	f.mu.Lock()
	b, ok := f.objects[bucket+"/"+key]
	f.mu.Unlock()
	if !ok {
		return notFound()
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filePath, b, 0o644)
}

func (f *fakeAPI) FPutObject(_ context.Context, bucket, key, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.failPut != nil {
		return minio.UploadInfo{}, f.failPut
	}
	b, err := os.ReadFile(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = b
	f.types[bucket+"/"+key] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(b))}, nil
}

func (f *fakeAPI) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestS3Conformance(t *testing.T) {
	storagetest.Run(t, &Proxy{client: newFakeAPI(), scheme: SchemeS3, concurrency: 2}, "s3://bucket/prefix")
}

func TestGCSConformance(t *testing.T) {
	storagetest.Run(t, &Proxy{client: newFakeAPI(), scheme: SchemeGCS, concurrency: 2}, "gs://bucket/prefix")
}

func TestRejectsForeignScheme(t *testing.T) {
	p := &Proxy{client: newFakeAPI(), scheme: SchemeS3}
	_, err := p.Exists(context.Background(), "gs://bucket/key")
	if failure.Kind(err) != failure.KindConfiguration {
		t.Fatalf("Exists() err=%v, want configuration error", err)
	}
	err = p.Get(context.Background(), "s3://bucket", filepath.Join(t.TempDir(), "x"))
	if failure.Kind(err) != failure.KindConfiguration {
		t.Fatalf("Get(bucket only) err=%v, want configuration error", err)
	}
}

func TestMissingBucketIsNotAnAbsentObject(t *testing.T) {
	p := &Proxy{client: newFakeAPI(), scheme: SchemeS3}
	ok, err := p.Exists(context.Background(), "s3://"+absentBucket+"/run/indexlookup.pb")
	if ok || failure.Kind(err) != failure.KindConfiguration {
		t.Fatalf("Exists()=%v err=%v, want configuration error", ok, err)
	}
	err = p.Get(context.Background(), "s3://"+absentBucket+"/run/inputs.pb", filepath.Join(t.TempDir(), "x"))
	if errors.Is(err, storage.ErrNotFound) || failure.IsRetryable(err) {
		t.Fatalf("Get() err=%v, want non-retryable bucket error", err)
	}
}

func TestPutFailureIsTransferError(t *testing.T) {
	api := newFakeAPI()
	api.failPut = errors.New("503 slow down")
	p := &Proxy{client: api, scheme: SchemeS3}
	src := filepath.Join(t.TempDir(), "outputs.pb")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := p.Put(context.Background(), src, "s3://bucket/out/outputs.pb")
	if !failure.IsRetryable(err) {
		t.Fatalf("Put() err=%v, want retryable transfer error", err)
	}
}

func TestPutSetsContentTypeAndKeys(t *testing.T) {
	api := newFakeAPI()
	p := &Proxy{client: api, scheme: SchemeS3, concurrency: 1}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "outputs.pb"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.UploadDirectory(context.Background(), dir, storage.Join("s3://bucket/out", "4")); err != nil {
		t.Fatalf("UploadDirectory() err=%v", err)
	}
	if got := api.keys(); len(got) != 1 || got[0] != "bucket/out/4/outputs.pb" {
		t.Fatalf("keys=%v", got)
	}
	if ct := api.types["bucket/out/4/outputs.pb"]; ct != "application/x-protobuf" {
		t.Fatalf("content type=%q", ct)
	}
}

func TestNilClient(t *testing.T) {
	if _, err := NewS3(nil, 1); err == nil {
		t.Fatalf("NewS3(nil) expected error")
	}
}
