package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/animus-labs/taskexec/internal/execctx"
	"github.com/animus-labs/taskexec/internal/literal"
	"github.com/animus-labs/taskexec/internal/platform/entropy"
	"github.com/animus-labs/taskexec/internal/task"
)

// builtinModule holds the tasks shipped with the binary.
const builtinModule = "taskexec.builtin"

func init() {
	for _, d := range builtinTasks() {
		task.MustRegister(d)
	}
}

func builtinTasks() []task.Definition {
	return []task.Definition{
		{Module: builtinModule, Name: "echo", Native: task.NativeFunc(echoTask)},
		{Module: builtinModule, Name: "sum", Native: task.NativeFunc(sumTask)},
		{Module: builtinModule, Name: "sample", Native: task.NativeFunc(sampleTask)},
		{Module: builtinModule, Name: "identity", Legacy: &task.Legacy{
			Func:    identityTask,
			Command: []string{"sh", "-c", `cp "$TASKEXEC_INPUTS" "$TASKEXEC_OUTPUTS"`},
		}},
	}
}

// echoTask returns its inputs and lists their names in the deck.
func echoTask(_ context.Context, ec *execctx.Context, inputs literal.Map) (literal.Map, error) {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "- `%s`\n", name)
	}
	ec.Params().Deck.Add("Inputs", sb.String())
	return inputs, nil
}

// sumTask adds the integers of the "values" collection.
func sumTask(_ context.Context, ec *execctx.Context, inputs literal.Map) (literal.Map, error) {
	values, ok := inputs["values"].(literal.Collection)
	if !ok {
		return nil, fmt.Errorf("input \"values\" must be a collection, got %T", inputs["values"])
	}
	var total int64
	for i, v := range values {
		n, ok := literal.AsInt(v)
		if !ok {
			return nil, fmt.Errorf("values[%d] is %T, want integer", i, v)
		}
		total += n
	}
	ec.Params().Stats.Gauge("sum.count", float64(len(values)))
	return literal.Map{"total": literal.Integer(total)}, nil
}

// sampleTask draws "n" values in [0, 1) from the process entropy source.
func sampleTask(_ context.Context, _ *execctx.Context, inputs literal.Map) (literal.Map, error) {
	n, ok := literal.AsInt(inputs["n"])
	if !ok || n < 0 {
		return nil, fmt.Errorf("input \"n\" must be a non-negative integer")
	}
	out := make(literal.Collection, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, literal.Float(entropy.Float64()))
	}
	return literal.Map{"samples": out}, nil
}

func identityTask(_ context.Context, inputs literal.Map) (literal.Map, error) {
	return inputs, nil
}
