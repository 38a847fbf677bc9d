// Package execctx holds the scoped context stack task code runs in.
//
// Layers are entered with Stack.WithFileAccess and Stack.WithExecutionState.
// Each layer forwards lookups it does not bind to its parent and is released
// when its callback returns or panics. The execution state layer allocates its
// working directory through the file access layer, so it must be entered
// inside one.
package execctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/animus-labs/taskexec/internal/deck"
	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/platform/logging"
	"github.com/animus-labs/taskexec/internal/stats"
	"github.com/animus-labs/taskexec/internal/storage"
)

// Mode names what the process is doing while a state layer is active.
type Mode string

const ModeTaskExecution Mode = "task_execution"

const (
	EngineDirName = "engine_dir"
	UserSpaceName = "user_space"
)

type ExecutionID struct {
	Project string
	Domain  string
	Name    string
}

func (id ExecutionID) String() string {
	return id.Project + ":" + id.Domain + ":" + id.Name
}

// Params is what task code sees of the running execution.
type Params struct {
	ExecutionID   ExecutionID
	ExecutionDate time.Time
	Stats         stats.Client
	Logger        *slog.Logger
	// TmpDir is scratch space owned by the task; it is removed with the
	// working directory.
	TmpDir string
	Deck   *deck.Deck
}

type ExecutionState struct {
	Mode       Mode
	WorkingDir string
	// EngineDir holds the files uploaded to the output prefix.
	EngineDir string
	Params    *Params
}

// Context is one layer of the stack.
type Context struct {
	parent     *Context
	fileAccess *storage.FileAccess
	state      *ExecutionState
}

func (c *Context) Parent() *Context {
	if c == nil {
		return nil
	}
	return c.parent
}

// FileAccess returns the nearest bound file access layer, or nil.
func (c *Context) FileAccess() *storage.FileAccess {
	for l := c; l != nil; l = l.parent {
		if l.fileAccess != nil {
			return l.fileAccess
		}
	}
	return nil
}

// ExecutionState returns the nearest bound execution state, or nil.
func (c *Context) ExecutionState() *ExecutionState {
	for l := c; l != nil; l = l.parent {
		if l.state != nil {
			return l.state
		}
	}
	return nil
}

func (c *Context) Params() *Params {
	if s := c.ExecutionState(); s != nil {
		return s.Params
	}
	return nil
}

// Stack is the chain of active layers. The zero value is not usable; call
// NewStack.
type Stack struct {
	mu     sync.Mutex
	layers []*Context
}

// NewStack returns a stack holding only an empty root layer.
func NewStack() *Stack {
	return &Stack{layers: []*Context{{}}}
}

func (s *Stack) Current() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers[len(s.layers)-1]
}

// Depth counts layers above the root.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers) - 1
}

func (s *Stack) push(c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.parent = s.layers[len(s.layers)-1]
	s.layers = append(s.layers, c)
}

func (s *Stack) pop(c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := len(s.layers) - 1
	if top == 0 || s.layers[top] != c {
		panic("execctx: layers released out of order")
	}
	s.layers = s.layers[:top]
}

// WithFileAccess runs fn with fa bound as the active file access layer.
func (s *Stack) WithFileAccess(fa *storage.FileAccess, fn func(*Context) error) error {
	if fa == nil {
		return errors.New("file access is required")
	}
	layer := &Context{fileAccess: fa}
	s.push(layer)
	defer s.pop(layer)
	return fn(layer)
}

// WithExecutionState allocates a fresh working directory through the active
// file access layer and runs fn with an execution state bound. The working
// directory is removed when fn returns, panics or fails.
func (s *Stack) WithExecutionState(mode Mode, params Params, fn func(*Context) error) (err error) {
	fa := s.Current().FileAccess()
	if fa == nil {
		return failure.Assertf("execution state entered without an active file access layer")
	}
	working, err := fa.RandomLocalDirectory()
	if err != nil {
		return err
	}

	var once sync.Once
	var releaseErr error
	release := func() {
		once.Do(func() {
			if rmErr := os.RemoveAll(working); rmErr != nil {
				releaseErr = fmt.Errorf("remove working directory: %w", rmErr)
			}
		})
	}

	state, err := newState(mode, params, working)
	if err != nil {
		release()
		return errors.Join(err, releaseErr)
	}

	layer := &Context{state: state}
	s.push(layer)
	defer func() {
		s.pop(layer)
		release()
		if releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()
	return fn(layer)
}

func newState(mode Mode, params Params, working string) (*ExecutionState, error) {
	engineDir := filepath.Join(working, EngineDirName)
	userSpace := filepath.Join(working, UserSpaceName)
	for _, dir := range []string{engineDir, userSpace} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Base(dir), err)
		}
	}

	if params.Logger == nil {
		params.Logger = logging.Discard()
	}
	if params.Stats == nil {
		params.Stats = stats.New(params.Logger, "", nil)
	}
	if params.Deck == nil {
		params.Deck = deck.New(params.ExecutionID.Name)
	}
	if params.ExecutionDate.IsZero() {
		params.ExecutionDate = time.Now().UTC()
	}
	params.TmpDir = userSpace

	return &ExecutionState{
		Mode:       mode,
		WorkingDir: working,
		EngineDir:  engineDir,
		Params:     &params,
	}, nil
}

type ctxKey struct{}

// NewContext returns ctx carrying c. Legacy tasks, which are not handed the
// layer explicitly, read it back with FromContext.
func NewContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) *Context {
	c, _ := ctx.Value(ctxKey{}).(*Context)
	return c
}
