// Package stats provides the metrics handle exposed to task code.
package stats

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/taskexec/internal/platform/logging"
)

// Client records counters, gauges and timings.
type Client interface {
	Incr(name string)
	Gauge(name string, value float64)
	Timing(name string, d time.Duration)
	// Tagged returns a client that adds tags to every sample.
	Tagged(tags map[string]string) Client
}

// Sample is one recorded metric value.
type Sample struct {
	Name  string
	Kind  string
	Value float64
	Tags  map[string]string
}

// Recorder logs every sample at debug level and keeps them in memory.
type Recorder struct {
	prefix string
	tags   map[string]string
	sink   *sink
}

type sink struct {
	mu      sync.Mutex
	logger  *slog.Logger
	samples []Sample
}

// New returns a Recorder whose metric names start with prefix.
func New(logger *slog.Logger, prefix string, tags map[string]string) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{
		prefix: strings.Trim(prefix, "."),
		tags:   maps.Clone(tags),
		sink:   &sink{logger: logger},
	}
}

// UserStatsPrefix builds "<project>.<domain>.<name>.user_stats".
func UserStatsPrefix(project, domain, name string) string {
	return strings.Join([]string{project, domain, name, "user_stats"}, ".")
}

func (r *Recorder) Incr(name string) { r.record(name, "counter", 1) }

func (r *Recorder) Gauge(name string, value float64) { r.record(name, "gauge", value) }

func (r *Recorder) Timing(name string, d time.Duration) {
	r.record(name, "timing", float64(d)/float64(time.Millisecond))
}

func (r *Recorder) Tagged(tags map[string]string) Client {
	merged := maps.Clone(r.tags)
	if merged == nil {
		merged = map[string]string{}
	}
	maps.Copy(merged, tags)
	return &Recorder{prefix: r.prefix, tags: merged, sink: r.sink}
}

// Snapshot returns every sample recorded through this recorder or any client
// derived from it.
func (r *Recorder) Snapshot() []Sample {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	out := make([]Sample, len(r.sink.samples))
	copy(out, r.sink.samples)
	return out
}

// Count sums counter samples named name (without prefix).
func (r *Recorder) Count(name string) int {
	full := r.name(name)
	n := 0
	for _, s := range r.Snapshot() {
		if s.Kind == "counter" && s.Name == full {
			n += int(s.Value)
		}
	}
	return n
}

func (r *Recorder) name(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + "." + name
}

func (r *Recorder) record(name, kind string, value float64) {
	s := Sample{Name: r.name(name), Kind: kind, Value: value, Tags: maps.Clone(r.tags)}

	r.sink.mu.Lock()
	r.sink.samples = append(r.sink.samples, s)
	r.sink.mu.Unlock()

	attrs := []slog.Attr{
		slog.String(logging.Metric, s.Name),
		slog.String("kind", kind),
		slog.Float64(logging.Value, value),
	}
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, s.Tags[k]))
	}
	r.sink.logger.LogAttrs(context.Background(), slog.LevelDebug, "stat", attrs...)
}
