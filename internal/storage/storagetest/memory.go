// Package storagetest provides an in-memory storage proxy and a conformance
// suite shared by the backend tests.
package storagetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/storage"
)

// Memory is a storage.Proxy keeping objects in a map. It counts calls per
// operation and can be told to fail upcoming calls.
type Memory struct {
	mu       sync.Mutex
	objects  map[string][]byte
	calls    map[string]int
	failures map[string][]error
}

func NewMemory() *Memory {
	return &Memory{
		objects:  map[string][]byte{},
		calls:    map[string]int{},
		failures: map[string][]error{},
	}
}

// FailNext queues errs to be returned by the next calls of op
// ("exists", "get", "put" or "upload_directory").
func (m *Memory) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// Calls reports how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls reports the number of calls across all operations.
func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *Memory) Object(remotePath string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[remotePath]
	return b, ok
}

func (m *Memory) PutObject(remotePath string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[remotePath] = append([]byte(nil), data...)
}

// Keys lists stored object paths in order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) begin(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if queued := m.failures[op]; len(queued) > 0 {
		m.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *Memory) Exists(ctx context.Context, remotePath string) (bool, error) {
	if err := m.begin("exists"); err != nil {
		return false, failure.Transfer("exists", remotePath, err)
	}
	if err := ctx.Err(); err != nil {
		return false, failure.Transfer("exists", remotePath, err)
	}
	_, ok := m.Object(remotePath)
	return ok, nil
}

func (m *Memory) Get(ctx context.Context, remotePath, localPath string) error {
	if err := m.begin("get"); err != nil {
		return failure.Transfer("get", remotePath, err)
	}
	if err := ctx.Err(); err != nil {
		return failure.Transfer("get", remotePath, err)
	}
	b, ok := m.Object(remotePath)
	if !ok {
		return failure.Transfer("get", remotePath, storage.ErrNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, b, 0o644)
}

func (m *Memory) Put(ctx context.Context, localPath, remotePath string) error {
	if err := m.begin("put"); err != nil {
		return failure.Transfer("put", remotePath, err)
	}
	if err := ctx.Err(); err != nil {
		return failure.Transfer("put", remotePath, err)
	}
	b, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}
	m.PutObject(remotePath, b)
	return nil
}

func (m *Memory) UploadDirectory(ctx context.Context, localDir, remotePrefix string) error {
	if err := m.begin("upload_directory"); err != nil {
		return failure.Transfer("upload_directory", remotePrefix, err)
	}
	return storage.UploadTree(ctx, localDir, remotePrefix, 2, m.Put)
}
