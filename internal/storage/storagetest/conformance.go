package storagetest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/animus-labs/taskexec/internal/storage"
)

// Run exercises the storage.Proxy contract against p using objects below
// base.
func Run(t *testing.T, p storage.Proxy, base string) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing object", func(t *testing.T) {
		ok, err := p.Exists(ctx, storage.Join(base, "missing", "object.pb"))
		if err != nil {
			t.Fatalf("Exists() err=%v", err)
		}
		if ok {
			t.Fatalf("Exists()=true for missing object")
		}
		err = p.Get(ctx, storage.Join(base, "missing", "object.pb"), filepath.Join(t.TempDir(), "x"))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Get() err=%v, want ErrNotFound", err)
		}
	})

	t.Run("put then get", func(t *testing.T) {
		local := writeFile(t, t.TempDir(), "inputs.pb", "payload")
		remote := storage.Join(base, "inputs", "3", "inputs.pb")
		if err := p.Put(ctx, local, remote); err != nil {
			t.Fatalf("Put() err=%v", err)
		}
		ok, err := p.Exists(ctx, remote)
		if err != nil || !ok {
			t.Fatalf("Exists()=%v err=%v, want true", ok, err)
		}

		dst := filepath.Join(t.TempDir(), "nested", "copy.pb")
		if err := p.Get(ctx, remote, dst); err != nil {
			t.Fatalf("Get() err=%v", err)
		}
		assertFile(t, dst, "payload")
	})

	t.Run("get overwrites local file", func(t *testing.T) {
		remote := storage.Join(base, "overwrite.pb")
		if err := p.Put(ctx, writeFile(t, t.TempDir(), "src", "fresh"), remote); err != nil {
			t.Fatalf("Put() err=%v", err)
		}
		dst := writeFile(t, t.TempDir(), "dst", "stale content that is longer")
		for i := 0; i < 2; i++ {
			if err := p.Get(ctx, remote, dst); err != nil {
				t.Fatalf("Get() attempt %d err=%v", i, err)
			}
		}
		assertFile(t, dst, "fresh")
	})

	t.Run("upload directory keeps layout", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "outputs.pb", "out")
		writeFile(t, filepath.Join(dir, "sub", "deeper"), "part-0", "p0")
		prefix := storage.Join(base, "outputs", "2")
		if err := p.UploadDirectory(ctx, dir, prefix); err != nil {
			t.Fatalf("UploadDirectory() err=%v", err)
		}
		for name, want := range map[string]string{
			"outputs.pb":        "out",
			"sub/deeper/part-0": "p0",
		} {
			dst := filepath.Join(t.TempDir(), "check")
			if err := p.Get(ctx, storage.Join(prefix, name), dst); err != nil {
				t.Fatalf("Get(%s) err=%v", name, err)
			}
			assertFile(t, dst, want)
		}
	})
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func assertFile(t *testing.T, p, want string) {
	t.Helper()
	got, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	if string(got) != want {
		t.Fatalf("%s=%q, want %q", p, got, want)
	}
}
