package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) err=%v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("ParseLevel(verbose) expected error")
	}
}

func TestNewHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)
	logger.Info("dropped")
	logger.Warn("kept", Shard, 3)

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if record["msg"] != "kept" {
		t.Fatalf("msg=%v, want kept", record["msg"])
	}
	if record[Shard] != float64(3) {
		t.Fatalf("%s=%v, want 3", Shard, record[Shard])
	}
}
