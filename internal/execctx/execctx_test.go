package execctx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/storage"
	"github.com/animus-labs/taskexec/internal/storage/storagetest"
)

func newFileAccess(t *testing.T) *storage.FileAccess {
	t.Helper()
	fa, err := storage.NewFileAccess(t.TempDir(), storagetest.NewMemory(), "s3://bucket/raw", nil)
	if err != nil {
		t.Fatalf("NewFileAccess() err=%v", err)
	}
	return fa
}

func TestStack_LayersForwardAndUnwind(t *testing.T) {
	s := NewStack()
	fa := newFileAccess(t)
	id := ExecutionID{Project: "p", Domain: "d", Name: "n"}

	var working string
	err := s.WithFileAccess(fa, func(outer *Context) error {
		if s.Depth() != 1 {
			t.Fatalf("Depth()=%d, want 1", s.Depth())
		}
		if outer.ExecutionState() != nil {
			t.Fatalf("file access layer has an execution state")
		}
		return s.WithExecutionState(ModeTaskExecution, Params{ExecutionID: id}, func(c *Context) error {
			if s.Depth() != 2 || s.Current() != c {
				t.Fatalf("Depth()=%d, Current()==c %v", s.Depth(), s.Current() == c)
			}
			if c.FileAccess() != fa {
				t.Fatalf("FileAccess() did not fall through to parent")
			}
			st := c.ExecutionState()
			if st.Mode != ModeTaskExecution {
				t.Fatalf("Mode=%q", st.Mode)
			}
			if filepath.Dir(st.WorkingDir) != fa.LocalSandbox() {
				t.Fatalf("WorkingDir=%q not allocated in sandbox %q", st.WorkingDir, fa.LocalSandbox())
			}
			if st.EngineDir != filepath.Join(st.WorkingDir, EngineDirName) {
				t.Fatalf("EngineDir=%q", st.EngineDir)
			}
			p := c.Params()
			if p.TmpDir != filepath.Join(st.WorkingDir, UserSpaceName) {
				t.Fatalf("TmpDir=%q", p.TmpDir)
			}
			for _, dir := range []string{st.EngineDir, p.TmpDir} {
				if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
					t.Fatalf("%s missing: %v", dir, err)
				}
			}
			if p.ExecutionID != id || p.Stats == nil || p.Logger == nil || p.Deck == nil || p.ExecutionDate.IsZero() {
				t.Fatalf("Params=%+v", p)
			}
			working = st.WorkingDir
			return nil
		})
	})
	if err != nil {
		t.Fatalf("WithFileAccess() err=%v", err)
	}
	if s.Depth() != 0 {
		t.Fatalf("Depth()=%d after unwind, want 0", s.Depth())
	}
	if _, err := os.Stat(working); !os.IsNotExist(err) {
		t.Fatalf("working dir still present: %v", err)
	}
}

func TestStack_StateRequiresFileAccess(t *testing.T) {
	s := NewStack()
	called := false
	err := s.WithExecutionState(ModeTaskExecution, Params{}, func(*Context) error {
		called = true
		return nil
	})
	if failure.Kind(err) != failure.KindAssertion {
		t.Fatalf("WithExecutionState() err=%v, want system assertion", err)
	}
	if called || s.Depth() != 0 {
		t.Fatalf("called=%v Depth()=%d", called, s.Depth())
	}
}

func TestStack_ReleasesOnError(t *testing.T) {
	s := NewStack()
	boom := errors.New("boom")
	var working string
	err := s.WithFileAccess(newFileAccess(t), func(*Context) error {
		return s.WithExecutionState(ModeTaskExecution, Params{}, func(c *Context) error {
			working = c.ExecutionState().WorkingDir
			return boom
		})
	})
	if err != boom {
		t.Fatalf("err=%v, want the callback error unchanged", err)
	}
	if _, statErr := os.Stat(working); !os.IsNotExist(statErr) {
		t.Fatalf("working dir still present: %v", statErr)
	}
	if s.Depth() != 0 {
		t.Fatalf("Depth()=%d, want 0", s.Depth())
	}
}

func TestStack_ReleasesOnPanic(t *testing.T) {
	s := NewStack()
	var working string
	func() {
		defer func() {
			if r := recover(); r != "task panicked" {
				t.Fatalf("recover()=%v", r)
			}
		}()
		_ = s.WithFileAccess(newFileAccess(t), func(*Context) error {
			return s.WithExecutionState(ModeTaskExecution, Params{}, func(c *Context) error {
				working = c.ExecutionState().WorkingDir
				panic("task panicked")
			})
		})
	}()
	if s.Depth() != 0 {
		t.Fatalf("Depth()=%d after panic, want 0", s.Depth())
	}
	if _, err := os.Stat(working); !os.IsNotExist(err) {
		t.Fatalf("working dir still present: %v", err)
	}
}

func TestStack_NestedStateShadowsParent(t *testing.T) {
	s := NewStack()
	err := s.WithFileAccess(newFileAccess(t), func(*Context) error {
		return s.WithExecutionState(ModeTaskExecution, Params{ExecutionID: ExecutionID{Name: "outer"}}, func(outer *Context) error {
			err := s.WithExecutionState(ModeTaskExecution, Params{ExecutionID: ExecutionID{Name: "inner"}}, func(inner *Context) error {
				if inner.Params().ExecutionID.Name != "inner" {
					t.Fatalf("inner Params()=%+v", inner.Params())
				}
				if inner.Parent() != outer {
					t.Fatalf("Parent() is not the outer layer")
				}
				return nil
			})
			if s.Current() != outer {
				t.Fatalf("Current() is not the outer layer after inner exit")
			}
			return err
		})
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestContext_NilSafe(t *testing.T) {
	var c *Context
	if c.FileAccess() != nil || c.ExecutionState() != nil || c.Params() != nil || c.Parent() != nil {
		t.Fatalf("nil Context returned bindings")
	}
	if (ExecutionID{Project: "p", Domain: "d", Name: "n"}).String() != "p:d:n" {
		t.Fatalf("ExecutionID.String() mismatch")
	}
}

func TestContextValue(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatalf("FromContext(empty) != nil")
	}
	s := NewStack()
	err := s.WithFileAccess(newFileAccess(t), func(c *Context) error {
		if got := FromContext(NewContext(context.Background(), c)); got != c {
			t.Fatalf("FromContext()=%p, want %p", got, c)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
}
