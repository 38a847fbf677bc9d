// Package dispatch runs one task invocation, or one shard of an array job,
// from input bundle to uploaded outputs.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/animus-labs/taskexec/internal/config"
	"github.com/animus-labs/taskexec/internal/deck"
	"github.com/animus-labs/taskexec/internal/execctx"
	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/literal"
	"github.com/animus-labs/taskexec/internal/platform/entropy"
	"github.com/animus-labs/taskexec/internal/platform/env"
	"github.com/animus-labs/taskexec/internal/platform/logging"
	"github.com/animus-labs/taskexec/internal/shard"
	"github.com/animus-labs/taskexec/internal/stats"
	"github.com/animus-labs/taskexec/internal/storage"
	"github.com/animus-labs/taskexec/internal/storage/backend"
	"github.com/animus-labs/taskexec/internal/task"
	"github.com/animus-labs/taskexec/internal/task/engine"
)

const (
	InputsFileName  = "inputs.pb"
	OutputsFileName = "outputs.pb"
)

// Metric names emitted by the dispatcher.
const (
	MetricFetchInput = "dispatch.fetch_input"
	MetricInvoke     = "dispatch.invoke"
	MetricUpload     = "dispatch.upload"
	MetricSuccess    = "dispatch.success"
	MetricFailure    = "dispatch.failure"
)

// Request names the task to run and where its data lives.
type Request struct {
	TaskModule   string
	TaskName     string
	Inputs       string
	OutputPrefix string
	// RawOutputDataPrefix is where tasks put offloaded data. Empty means
	// none was provided.
	RawOutputDataPrefix string
	// Test resolves the task and the storage backend, then stops.
	Test bool
}

// Result describes how far a dispatch got.
type Result struct {
	Phase        Phase
	Sharded      bool
	Shard        int
	InputPath    string
	OutputPrefix string
	Outputs      literal.Map
}

// Observer is told about every phase transition.
type Observer func(from, to Phase)

// BackendFunc builds the storage proxy for the configured provider.
type BackendFunc func(ctx context.Context, s backend.Settings) (storage.Proxy, error)

type Options struct {
	// Env defaults to the process environment.
	Env      env.Lookup
	Registry *task.Registry
	Logger   *slog.Logger
	Backend  BackendFunc
	Renderer deck.Renderer
	Stats    stats.Client
	Observer Observer
	Now      func() time.Time
}

type Dispatcher struct {
	cfg      config.Config
	env      env.Lookup
	registry *task.Registry
	logger   *slog.Logger
	backend  BackendFunc
	renderer deck.Renderer
	stats    stats.Client
	observer Observer
	now      func() time.Time
	stack    *execctx.Stack
}

func New(cfg config.Config, opts Options) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		env:      opts.Env,
		registry: opts.Registry,
		logger:   opts.Logger,
		backend:  opts.Backend,
		renderer: opts.Renderer,
		stats:    opts.Stats,
		observer: opts.Observer,
		now:      opts.Now,
		stack:    execctx.NewStack(),
	}
	if d.env == nil {
		d.env = env.OS
	}
	if d.registry == nil {
		d.registry = task.Default
	}
	if d.logger == nil {
		d.logger = logging.Discard()
	}
	if d.backend == nil {
		d.backend = backend.New
	}
	if d.renderer == nil {
		d.renderer = deck.NewMarkdown()
	}
	if d.stats == nil {
		d.stats = stats.New(d.logger, "taskexec", nil)
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Stack exposes the context stack; it is empty whenever Run is not active.
func (d *Dispatcher) Stack() *execctx.Stack { return d.stack }

// run carries the state of one Run call.
type run struct {
	d      *Dispatcher
	req    Request
	logger *slog.Logger
	res    Result

	def    task.Definition
	engine engine.Engine
	files  *storage.FileAccess
}

// Run executes req. Errors raised by task logic are returned as
// *failure.UserError with the task's own message; everything else keeps its
// infrastructure classification.
func (d *Dispatcher) Run(ctx context.Context, req Request) (Result, error) {
	r := &run{
		d:      d,
		req:    req,
		logger: d.logger.With(logging.Task, req.TaskModule+"."+req.TaskName),
		res:    Result{Phase: PhaseInit, InputPath: req.Inputs, OutputPrefix: req.OutputPrefix},
	}
	err := r.execute(ctx)
	if err != nil {
		r.fail(err)
		d.stats.Incr(MetricFailure)
		return r.res, err
	}
	r.enter(PhaseDone)
	d.stats.Incr(MetricSuccess)
	return r.res, nil
}

func (r *run) execute(ctx context.Context) error {
	if err := r.init(ctx); err != nil {
		return err
	}
	if r.req.Test {
		r.logger.Info("test run, skipping execution",
			logging.Inputs, r.req.Inputs,
			logging.OutputPrefix, r.req.OutputPrefix,
			logging.RawOutput, r.req.RawOutputDataPrefix)
		return nil
	}

	if shard.Active(r.d.env) {
		r.enter(PhaseResolveShard)
		if err := r.resolveShard(ctx); err != nil {
			return err
		}
	}
	r.enter(PhaseResolvePaths)
	r.resolvePaths()

	return r.d.stack.WithFileAccess(r.files, func(*execctx.Context) error {
		return r.d.stack.WithExecutionState(execctx.ModeTaskExecution, r.params(), r.inScope(ctx))
	})
}

func (r *run) init(ctx context.Context) error {
	if strings.TrimSpace(r.req.Inputs) == "" || strings.TrimSpace(r.req.OutputPrefix) == "" {
		return failure.Configf("inputs path and output prefix are required")
	}
	def, err := r.d.registry.Lookup(r.req.TaskModule, r.req.TaskName)
	if err != nil {
		return err
	}
	r.def = def
	if def.Kind() == task.KindLegacy {
		if r.engine, err = engine.New(r.d.cfg.SDK.Engine, r.logger); err != nil {
			return err
		}
	}

	proxy, err := r.d.backend(ctx, backend.FromConfig(r.d.cfg, r.logger))
	if err != nil {
		return err
	}
	sandbox := backend.LocalRoot(r.d.cfg.SDK.LocalSandbox, r.req.RawOutputDataPrefix)
	r.files, err = storage.NewFileAccess(sandbox, proxy, r.req.RawOutputDataPrefix, r.logger)
	if err != nil {
		return err
	}
	r.logger.Debug("dispatcher initialised",
		logging.TaskKind, string(def.Kind()),
		logging.Provider, string(r.d.cfg.Platform.CloudProvider))
	return nil
}

func (r *run) resolveShard(ctx context.Context) error {
	index, err := shard.ResolveIndex(r.d.env)
	if err != nil {
		return err
	}
	r.res.Sharded = true
	r.res.Shard = index

	scratch, err := r.files.RandomLocalDirectory()
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	// Sibling shards often start in the same instant.
	entropy.Seed(fmt.Sprintf("%d %s %d", entropy.Uint64(), r.d.now().UTC().Format(time.RFC3339Nano), index))

	remapped, err := shard.Remap(ctx, r.files.Remote(), scratch, r.req.Inputs, index)
	if err != nil {
		return err
	}
	r.res.Shard = remapped
	r.logger.Info("resolved shard", logging.RawIndex, index, logging.Shard, remapped)
	return nil
}

func (r *run) resolvePaths() {
	if r.res.Sharded {
		r.res.InputPath = shard.InputPath(r.req.Inputs, r.res.Shard)
		r.res.OutputPrefix = shard.OutputPrefix(r.req.OutputPrefix, r.res.Shard)
	}
	r.logger.Debug("resolved paths", logging.Inputs, r.res.InputPath, logging.OutputPrefix, r.res.OutputPrefix)
}

func (r *run) params() execctx.Params {
	cfg := r.d.cfg
	project := firstNonEmpty(cfg.Task.Project, cfg.Execution.Project)
	domain := firstNonEmpty(cfg.Task.Domain, cfg.Execution.Domain)
	name := firstNonEmpty(cfg.Task.Name, r.def.FullName())
	tags := map[string]string{
		"exec_project":    cfg.Execution.Project,
		"exec_domain":     cfg.Execution.Domain,
		"exec_workflow":   cfg.Execution.Workflow,
		"exec_launchplan": cfg.Execution.LaunchPlan,
		"api_version":     "v1",
	}
	return execctx.Params{
		ExecutionID: execctx.ExecutionID{
			Project: cfg.Execution.Project,
			Domain:  cfg.Execution.Domain,
			Name:    cfg.Execution.Name,
		},
		ExecutionDate: r.d.now().UTC(),
		Stats:         stats.New(r.logger, stats.UserStatsPrefix(project, domain, name), tags),
		Logger:        r.logger,
		Deck:          deck.New(r.def.FullName()),
	}
}

// inScope runs fetch, invoke, persist and upload inside the execution state
// layer. The working directory is gone once it returns.
func (r *run) inScope(ctx context.Context) func(*execctx.Context) error {
	return func(ec *execctx.Context) error {
		state := ec.ExecutionState()
		r.logger.Debug("execution state ready", logging.WorkingDir, state.WorkingDir)

		r.enter(PhaseFetchInput)
		start := r.d.now()
		local := filepath.Join(state.WorkingDir, InputsFileName)
		if err := ec.FileAccess().GetData(ctx, r.res.InputPath, local); err != nil {
			return err
		}
		inputs, err := literal.ReadMapFile(local)
		if err != nil {
			return fmt.Errorf("read input bundle: %w", err)
		}
		r.d.stats.Timing(MetricFetchInput, r.d.now().Sub(start))

		r.enter(PhaseInvoke)
		start = r.d.now()
		outputs, err := r.invoke(ctx, ec, inputs)
		if err != nil {
			return failure.User(r.def.FullName(), err)
		}
		if outputs == nil {
			outputs = literal.Map{}
		}
		r.res.Outputs = outputs
		r.d.stats.Timing(MetricInvoke, r.d.now().Sub(start))

		r.enter(PhasePersistOutput)
		if err := literal.WriteMapFile(filepath.Join(state.EngineDir, OutputsFileName), outputs); err != nil {
			return fmt.Errorf("write output bundle: %w", err)
		}
		if _, err := deck.WriteFile(state.EngineDir, state.Params.Deck, r.d.renderer); err != nil {
			return err
		}

		r.enter(PhaseUpload)
		start = r.d.now()
		if err := ec.FileAccess().UploadDirectory(ctx, state.EngineDir, r.res.OutputPrefix); err != nil {
			return err
		}
		r.d.stats.Timing(MetricUpload, r.d.now().Sub(start))
		return nil
	}
}

// invoke runs the task. A panic in task code is returned as an error so the
// run still fails through the error phase.
func (r *run) invoke(ctx context.Context, ec *execctx.Context, inputs literal.Map) (outputs literal.Map, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("task panicked", logging.Stack, string(debug.Stack()))
			outputs, err = nil, fmt.Errorf("task panicked: %v", p)
		}
	}()
	if r.def.Native != nil {
		return r.def.Native.DispatchExecute(ctx, ec, inputs)
	}
	return r.engine.Execute(execctx.NewContext(ctx, ec), engine.Request{
		Task:                r.def,
		Inputs:              inputs,
		OutputPrefix:        r.res.OutputPrefix,
		RawOutputDataPrefix: r.req.RawOutputDataPrefix,
		WorkingDir:          ec.Params().TmpDir,
	})
}

func (r *run) enter(next Phase) {
	prev := r.res.Phase
	if !CanTransition(prev, next) {
		panic(fmt.Sprintf("dispatch: illegal transition %s -> %s", prev, next))
	}
	r.res.Phase = next
	r.logger.Debug("phase", logging.Phase, string(next))
	if r.d.observer != nil {
		r.d.observer(prev, next)
	}
}

// fail records err. Infrastructure failures are logged with the shard and
// paths involved; user failures are attributed to the task.
func (r *run) fail(err error) {
	failed := r.res.Phase
	r.enter(PhaseError)
	kind := failure.Kind(err)
	if kind == failure.KindUser {
		r.logger.Warn("task failed", logging.Phase, string(failed), logging.ErrorKind, kind, logging.Error, err)
		return
	}
	attrs := []any{
		logging.Phase, string(failed),
		logging.ErrorKind, kind,
		logging.Error, err,
		logging.Inputs, r.res.InputPath,
		logging.OutputPrefix, r.res.OutputPrefix,
	}
	if r.res.Sharded {
		attrs = append(attrs, logging.Shard, r.res.Shard)
	}
	r.logger.Error("dispatch failed", attrs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
