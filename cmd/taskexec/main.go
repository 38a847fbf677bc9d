package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/animus-labs/taskexec/internal/config"
	"github.com/animus-labs/taskexec/internal/dispatch"
	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/platform/env"
	"github.com/animus-labs/taskexec/internal/platform/logging"
	"github.com/animus-labs/taskexec/internal/task"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rawOutputTemplate is what schedulers pass when they do not render the raw
// output data prefix.
const rawOutputTemplate = "{{.rawOutputDataPrefix}}"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, env.OS)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookup env.Lookup) int {
	root := newRootCmd(stdout, stderr, lookup, task.Default)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		logger := logging.New(stderr, slog.LevelInfo)
		logger.Error("taskexec failed", logging.ErrorKind, failure.Kind(err), logging.Error, err)
	}
	return failure.ExitCode(err)
}

func newRootCmd(stdout, stderr io.Writer, lookup env.Lookup, registry *task.Registry) *cobra.Command {
	root := &cobra.Command{
		Use:           "taskexec",
		Short:         "Run one task, or one shard of an array job, from inputs to uploaded outputs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return failure.Config("flags", err)
	})
	root.AddCommand(newExecuteCmd(stderr, lookup, registry), newVersionCmd(stdout))
	return root
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(stdout, version)
			return err
		},
	}
}

func newExecuteCmd(stderr io.Writer, lookup env.Lookup, registry *task.Registry) *cobra.Command {
	var req dispatch.Request
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Fetch inputs, run the task and upload its outputs",
		Long: `Runs the registered task <task-module>.<task-name>.

When BATCH_JOB_ARRAY_INDEX_VAR_NAME is set the process handles one shard of an
array job: --inputs names the data directory, the optional lookup table is read
from <inputs>/indexlookup.pb, the shard's inputs from <inputs>/<shard>/inputs.pb
and outputs are written below <output-prefix>/<shard>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlags(req); err != nil {
				return err
			}
			cfg, err := config.Load(lookup)
			if err != nil {
				return err
			}
			level, err := logging.ParseLevel(cfg.Logging.Level)
			if err != nil {
				return failure.Config("logging level", err)
			}
			logger := logging.New(stderr, level)

			req.RawOutputDataPrefix = normalizeRawOutputPrefix(req.RawOutputDataPrefix)
			d := dispatch.New(cfg, dispatch.Options{Env: lookup, Registry: registry, Logger: logger})
			res, err := d.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			logger.Info("task complete",
				logging.Task, req.TaskModule+"."+req.TaskName,
				logging.Phase, string(res.Phase),
				logging.OutputPrefix, res.OutputPrefix)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.TaskModule, "task-module", "", "module the task is registered under")
	flags.StringVar(&req.TaskName, "task-name", "", "name of the task within its module")
	flags.StringVar(&req.Inputs, "inputs", "", "remote path of the input bundle (inputs.pb), or its data directory for array jobs")
	flags.StringVar(&req.OutputPrefix, "output-prefix", "", "remote prefix the outputs are uploaded to")
	flags.StringVar(&req.RawOutputDataPrefix, "raw-output-data-prefix", "", "remote prefix for offloaded task data")
	flags.BoolVar(&req.Test, "test", false, "resolve the task and storage backend without running")
	return cmd
}

func requireFlags(req dispatch.Request) error {
	var missing []string
	for name, v := range map[string]string{
		"--task-module":   req.TaskModule,
		"--task-name":     req.TaskName,
		"--inputs":        req.Inputs,
		"--output-prefix": req.OutputPrefix,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return failure.Configf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return nil
}

// normalizeRawOutputPrefix treats an unrendered template as unset.
func normalizeRawOutputPrefix(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == rawOutputTemplate {
		return ""
	}
	return raw
}
