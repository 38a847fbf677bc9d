package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/animus-labs/taskexec/internal/config"
	"github.com/animus-labs/taskexec/internal/deck"
	"github.com/animus-labs/taskexec/internal/literal"
	"github.com/animus-labs/taskexec/internal/platform/env"
	"github.com/animus-labs/taskexec/internal/shard"
)

type harness struct {
	t      *testing.T
	data   string
	vars   map[string]string
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:    t,
		data: t.TempDir(),
		vars: map[string]string{config.EnvLocalSandbox: t.TempDir()},
	}
}

func (h *harness) run(args ...string) int {
	return run(context.Background(), args, &h.stdout, &h.stderr, env.Map(h.vars))
}

// local is the file behind rel in the test data directory.
func (h *harness) local(rel string) string {
	return filepath.Join(h.data, filepath.FromSlash(rel))
}

// uri is the file:// location the local backend resolves to local(rel).
func (h *harness) uri(rel string) string {
	return "file://" + filepath.ToSlash(h.local(rel))
}

func (h *harness) writeInputs(key string, m literal.Map) {
	h.t.Helper()
	path := h.local(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.t.Fatalf("mkdir: %v", err)
	}
	if err := literal.WriteMapFile(path, m); err != nil {
		h.t.Fatalf("WriteMapFile() err=%v", err)
	}
}

func (h *harness) readOutputs(key string) literal.Map {
	h.t.Helper()
	m, err := literal.ReadMapFile(h.local(key))
	if err != nil {
		h.t.Fatalf("ReadMapFile() err=%v; stderr:\n%s", err, h.stderr.String())
	}
	return m
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	if code := h.run("version"); code != 0 {
		t.Fatalf("run(version)=%d", code)
	}
	if got := h.stdout.String(); got != version+"\n" {
		t.Fatalf("stdout=%q, want %q", got, version+"\n")
	}
}

func TestExecute_LocalBackend(t *testing.T) {
	h := newHarness(t)
	h.writeInputs("run/inputs.pb", literal.Map{"values": literal.Ints(1, 2, 3, 4)})

	code := h.run("execute",
		"--task-module", builtinModule, "--task-name", "sum",
		"--inputs", h.uri("run/inputs.pb"),
		"--output-prefix", h.uri("out"),
		"--raw-output-data-prefix", rawOutputTemplate,
	)
	if code != 0 {
		t.Fatalf("run(execute)=%d; stderr:\n%s", code, h.stderr.String())
	}
	if diff := cmp.Diff(literal.Map{"total": literal.Integer(10)}, h.readOutputs("out/outputs.pb")); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(h.stderr.String(), `"msg":"task complete"`) {
		t.Fatalf("stderr missing completion log:\n%s", h.stderr.String())
	}
}

func TestExecute_ShardedEcho(t *testing.T) {
	h := newHarness(t)
	h.vars[shard.IndexVarNameEnv] = "JOB_INDEX"
	h.vars["JOB_INDEX"] = "0"
	h.vars[shard.IndexOffsetEnv] = "1"
	in := literal.Map{"name": literal.String("shard one")}
	h.writeInputs("run/1/inputs.pb", in)

	code := h.run("execute",
		"--task-module", builtinModule, "--task-name", "echo",
		"--inputs", h.uri("run"),
		"--output-prefix", h.uri("out"),
	)
	if code != 0 {
		t.Fatalf("run(execute)=%d; stderr:\n%s", code, h.stderr.String())
	}
	if diff := cmp.Diff(in, h.readOutputs("out/1/outputs.pb")); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(h.local("out/1/" + deck.FileName)); err != nil {
		t.Fatalf("deck not uploaded: %v", err)
	}
}

func TestExecute_TestFlag(t *testing.T) {
	h := newHarness(t)
	code := h.run("execute",
		"--task-module", builtinModule, "--task-name", "echo",
		"--inputs", h.uri("missing/inputs.pb"),
		"--output-prefix", h.uri("out"),
		"--test",
	)
	if code != 0 {
		t.Fatalf("run(execute --test)=%d; stderr:\n%s", code, h.stderr.String())
	}
	if _, err := os.Stat(h.local("out")); !os.IsNotExist(err) {
		t.Fatalf("test run wrote outputs: %v", err)
	}
}

func TestExecute_ExitCodes(t *testing.T) {
	cases := []struct {
		name  string
		vars  map[string]string
		args  []string
		paths bool
		want  int
	}{
		{"missing flags", nil, []string{"execute", "--task-module", builtinModule}, false, 2},
		{"unknown flag", nil, []string{"execute", "--bogus"}, false, 2},
		{"unknown provider", map[string]string{config.EnvCloudProvider: "azure"},
			[]string{"execute", "--task-module", builtinModule, "--task-name", "echo"}, true, 2},
		{"unknown task", nil, []string{"execute", "--task-module", builtinModule, "--task-name", "nope"}, true, 2},
		{"missing inputs", nil, []string{"execute", "--task-module", builtinModule, "--task-name", "echo"}, true, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			for k, v := range tc.vars {
				h.vars[k] = v
			}
			args := tc.args
			if tc.paths {
				args = append(append([]string{}, args...),
					"--inputs", h.uri("run/inputs.pb"), "--output-prefix", h.uri("out"))
			}
			if code := h.run(args...); code != tc.want {
				t.Fatalf("run()=%d, want %d; stderr:\n%s", code, tc.want, h.stderr.String())
			}
		})
	}
}

func TestExecute_UserErrorExitsOne(t *testing.T) {
	h := newHarness(t)
	h.writeInputs("run/inputs.pb", literal.Map{"values": literal.String("not a list")})
	code := h.run("execute",
		"--task-module", builtinModule, "--task-name", "sum",
		"--inputs", h.uri("run/inputs.pb"),
		"--output-prefix", h.uri("out"),
	)
	if code != 1 {
		t.Fatalf("run()=%d, want 1", code)
	}
	if !strings.Contains(h.stderr.String(), `"error_kind":"user"`) {
		t.Fatalf("stderr missing user attribution:\n%s", h.stderr.String())
	}
}

func TestNormalizeRawOutputPrefix(t *testing.T) {
	cases := map[string]string{
		"":                   "",
		rawOutputTemplate:    "",
		" s3://b/raw ":       "s3://b/raw",
		"{{.otherTemplate}}": "{{.otherTemplate}}",
	}
	for in, want := range cases {
		if got := normalizeRawOutputPrefix(in); got != want {
			t.Fatalf("normalizeRawOutputPrefix(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestBuiltinTasksRegistered(t *testing.T) {
	for _, d := range builtinTasks() {
		if err := d.Validate(); err != nil {
			t.Fatalf("%s: Validate() err=%v", d.FullName(), err)
		}
	}
}
