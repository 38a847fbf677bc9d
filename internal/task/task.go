// Package task defines the units of user logic the dispatcher can run and
// the registry it resolves them from.
package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/animus-labs/taskexec/internal/execctx"
	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/literal"
)

type Kind string

const (
	KindNative Kind = "native"
	KindLegacy Kind = "legacy"
)

// NativeTask is a typed task object. It receives the active context layer
// explicitly.
type NativeTask interface {
	DispatchExecute(ctx context.Context, ec *execctx.Context, inputs literal.Map) (literal.Map, error)
}

type NativeFunc func(ctx context.Context, ec *execctx.Context, inputs literal.Map) (literal.Map, error)

func (f NativeFunc) DispatchExecute(ctx context.Context, ec *execctx.Context, inputs literal.Map) (literal.Map, error) {
	return f(ctx, ec, inputs)
}

// LegacyFunc is an in-process legacy task. The active layer is available
// through execctx.FromContext.
type LegacyFunc func(ctx context.Context, inputs literal.Map) (literal.Map, error)

// Legacy is a task that runs through an execution engine. Func serves the
// local engine, Command the subprocess engine.
type Legacy struct {
	Func    LegacyFunc
	Command []string
	Env     map[string]string
}

// Definition is exactly one of a native task or a legacy task.
type Definition struct {
	Module string
	Name   string
	Native NativeTask
	Legacy *Legacy
}

func (d Definition) FullName() string {
	return d.Module + "." + d.Name
}

func (d Definition) Kind() Kind {
	if d.Native != nil {
		return KindNative
	}
	return KindLegacy
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Module) == "" || strings.TrimSpace(d.Name) == "" {
		return errors.New("task module and name are required")
	}
	switch {
	case d.Native != nil && d.Legacy != nil:
		return fmt.Errorf("task %s is both native and legacy", d.FullName())
	case d.Native == nil && d.Legacy == nil:
		return fmt.Errorf("task %s has no implementation", d.FullName())
	case d.Legacy != nil && d.Legacy.Func == nil && len(d.Legacy.Command) == 0:
		return fmt.Errorf("legacy task %s has neither a function nor a command", d.FullName())
	}
	return nil
}

// Registry maps "<module>.<name>" to definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: map[string]Definition{}}
}

func (r *Registry) Register(d Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[d.FullName()]; ok {
		return fmt.Errorf("task %s already registered", d.FullName())
	}
	r.defs[d.FullName()] = d
	return nil
}

// Lookup resolves a task by module and name. A missing task is a
// configuration error: the binary does not contain what the scheduler asked
// for.
func (r *Registry) Lookup(module, name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[module+"."+name]
	if !ok {
		return Definition{}, failure.Configf("task %s.%s is not registered", module, name)
	}
	return d, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is the registry used by the taskexec binary.
var Default = NewRegistry()

func Register(d Definition) error {
	return Default.Register(d)
}

// MustRegister panics if d cannot be registered. It is meant for package
// initialisation.
func MustRegister(d Definition) {
	if err := Register(d); err != nil {
		panic(err)
	}
}
