// Package engine runs legacy task definitions. The engine is chosen once per
// process from configuration.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/literal"
	"github.com/animus-labs/taskexec/internal/platform/logging"
	"github.com/animus-labs/taskexec/internal/task"
)

const (
	KindLocal      = "local"
	KindSubprocess = "subprocess"
)

// Request is one legacy invocation.
type Request struct {
	Task                task.Definition
	Inputs              literal.Map
	OutputPrefix        string
	RawOutputDataPrefix string
	// WorkingDir is scratch space for the engine; it must exist.
	WorkingDir string
}

type Engine interface {
	Kind() string
	Execute(ctx context.Context, req Request) (literal.Map, error)
}

// New returns the engine named kind. An empty kind selects the local engine.
func New(kind string, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindLocal:
		return Local{}, nil
	case KindSubprocess:
		return &Subprocess{logger: logger}, nil
	default:
		return nil, failure.Configf("unknown execution engine %q (want %s or %s)", kind, KindLocal, KindSubprocess)
	}
}

// Local calls the definition's function in process.
type Local struct{}

func (Local) Kind() string { return KindLocal }

func (Local) Execute(ctx context.Context, req Request) (literal.Map, error) {
	legacy := req.Task.Legacy
	if legacy == nil {
		return nil, errors.New("local engine requires a legacy task")
	}
	if legacy.Func == nil {
		return nil, failure.Configf("task %s has no function for the %s engine", req.Task.FullName(), KindLocal)
	}
	out, err := legacy.Func(ctx, req.Inputs)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = literal.Map{}
	}
	return out, nil
}
