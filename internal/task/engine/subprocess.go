package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/literal"
	"github.com/animus-labs/taskexec/internal/platform/logging"
)

// Variables set for every subprocess invocation. A definition cannot
// override them.
const (
	EnvInputs              = "TASKEXEC_INPUTS"
	EnvOutputs             = "TASKEXEC_OUTPUTS"
	EnvOutputPrefix        = "TASKEXEC_OUTPUT_PREFIX"
	EnvRawOutputDataPrefix = "TASKEXEC_RAW_OUTPUT_DATA_PREFIX"
)

// Subprocess runs the definition's command. Inputs are written to the file
// named by TASKEXEC_INPUTS; the command writes its outputs to
// TASKEXEC_OUTPUTS. A command that writes no outputs file produces no
// outputs.
type Subprocess struct {
	logger *slog.Logger
}

func (e *Subprocess) Kind() string { return KindSubprocess }

func (e *Subprocess) Execute(ctx context.Context, req Request) (literal.Map, error) {
	legacy := req.Task.Legacy
	if legacy == nil {
		return nil, errors.New("subprocess engine requires a legacy task")
	}
	if len(legacy.Command) == 0 || strings.TrimSpace(legacy.Command[0]) == "" {
		return nil, failure.Configf("task %s has no command for the %s engine", req.Task.FullName(), KindSubprocess)
	}
	if strings.TrimSpace(req.WorkingDir) == "" {
		return nil, errors.New("working directory is required")
	}

	inputsPath := filepath.Join(req.WorkingDir, "inputs.pb")
	outputsPath := filepath.Join(req.WorkingDir, "outputs.pb")
	inputs := req.Inputs
	if inputs == nil {
		inputs = literal.Map{}
	}
	if err := literal.WriteMapFile(inputsPath, inputs); err != nil {
		return nil, fmt.Errorf("write subprocess inputs: %w", err)
	}

	cmd := exec.CommandContext(ctx, legacy.Command[0], legacy.Command[1:]...)
	cmd.Dir = req.WorkingDir
	cmd.Env = append(os.Environ(), commandEnv(req, inputsPath, outputsPath)...)

	e.logger.Debug("run legacy command", logging.Task, req.Task.FullName(), logging.WorkingDir, req.WorkingDir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("task command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	outputs, err := literal.ReadMapFile(outputsPath)
	if errors.Is(err, os.ErrNotExist) {
		return literal.Map{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subprocess outputs: %w", err)
	}
	return outputs, nil
}

func commandEnv(req Request, inputsPath, outputsPath string) []string {
	vars := []string{
		EnvInputs + "=" + inputsPath,
		EnvOutputs + "=" + outputsPath,
		EnvOutputPrefix + "=" + req.OutputPrefix,
		EnvRawOutputDataPrefix + "=" + req.RawOutputDataPrefix,
	}
	extra := req.Task.Legacy.Env
	keys := make([]string, 0, len(extra))
	for k := range extra {
		key := strings.TrimSpace(k)
		if key == "" || isReservedEnvKey(key) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vars = append(vars, strings.TrimSpace(k)+"="+extra[k])
	}
	return vars
}

func isReservedEnvKey(key string) bool {
	switch strings.ToUpper(strings.TrimSpace(key)) {
	case EnvInputs, EnvOutputs, EnvOutputPrefix, EnvRawOutputDataPrefix:
		return true
	default:
		return false
	}
}
