package env

import (
	"testing"
	"time"
)

func TestLookup_Parsers(t *testing.T) {
	l := Map(map[string]string{
		"TASKEXEC_STORAGE_TIMEOUT": " 250ms ",
		"TASKEXEC_STORAGE_RETRIES": "7",
		"TASKEXEC_S3_USE_SSL":      "false",
		"BAD_DURATION":             "soon",
		"BAD_INT":                  "many",
		"BAD_BOOL":                 "nope",
		"BLANK":                    " ",
	})

	if got, err := l.Duration("TASKEXEC_STORAGE_TIMEOUT", time.Minute); err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v, want 250ms", got, err)
	}
	if got, err := l.Duration("MISSING", time.Minute); err != nil || got != time.Minute {
		t.Fatalf("Duration(missing)=%v err=%v, want default", got, err)
	}
	if got, err := l.Int("TASKEXEC_STORAGE_RETRIES", 3); err != nil || got != 7 {
		t.Fatalf("Int()=%v err=%v, want 7", got, err)
	}
	if got, err := l.Int("MISSING", 3); err != nil || got != 3 {
		t.Fatalf("Int(missing)=%v err=%v, want default", got, err)
	}
	if got, err := l.Bool("TASKEXEC_S3_USE_SSL", true); err != nil || got {
		t.Fatalf("Bool()=%v err=%v, want false", got, err)
	}
	if got, err := l.Bool("MISSING", true); err != nil || !got {
		t.Fatalf("Bool(missing)=%v err=%v, want default", got, err)
	}

	for name, parse := range map[string]func() error{
		"duration": func() error { _, err := l.Duration("BAD_DURATION", 0); return err },
		"int":      func() error { _, err := l.Int("BAD_INT", 0); return err },
		"bool":     func() error { _, err := l.Bool("BAD_BOOL", false); return err },
		"blank":    func() error { _, err := l.Int("BLANK", 0); return err },
	} {
		if err := parse(); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestLookup_String(t *testing.T) {
	l := Map(map[string]string{"SET": "value", "EMPTY": ""})
	cases := []struct {
		key, want string
	}{
		{"SET", "value"},
		{"EMPTY", ""},
		{"MISSING", "fallback"},
	}
	for _, tc := range cases {
		if got := l.String(tc.key, "fallback"); got != tc.want {
			t.Fatalf("String(%q)=%q, want %q", tc.key, got, tc.want)
		}
	}
	if v, ok := l.Get("EMPTY"); !ok || v != "" {
		t.Fatalf("Get(EMPTY)=%q,%v, want present and empty", v, ok)
	}
	if _, ok := l.Get("MISSING"); ok {
		t.Fatalf("Get(MISSING) ok=true")
	}
}

func TestSet(t *testing.T) {
	l := Map(map[string]string{"PRESENT": "x", "BLANK": "  "})
	if !l.Set("PRESENT") {
		t.Fatalf("Set(PRESENT)=false, want true")
	}
	if l.Set("BLANK") {
		t.Fatalf("Set(BLANK)=true, want false")
	}
	if l.Set("MISSING") {
		t.Fatalf("Set(MISSING)=true, want false")
	}
}

func TestProcessEnv(t *testing.T) {
	t.Setenv("TASKEXEC_ENV_TEST_STRING", "value")
	t.Setenv("TASKEXEC_ENV_TEST_INT", "12")

	var l Lookup
	if got := l.String("TASKEXEC_ENV_TEST_STRING", ""); got != "value" {
		t.Fatalf("nil Lookup String()=%q, want value", got)
	}
	if got := String("TASKEXEC_ENV_TEST_STRING", ""); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
	if got, err := Int("TASKEXEC_ENV_TEST_INT", 0); err != nil || got != 12 {
		t.Fatalf("Int()=%v err=%v, want 12", got, err)
	}
	if got, err := Duration("TASKEXEC_ENV_TEST_MISSING", time.Second); err != nil || got != time.Second {
		t.Fatalf("Duration()=%v err=%v, want 1s", got, err)
	}
	if got, err := Bool("TASKEXEC_ENV_TEST_MISSING", true); err != nil || !got {
		t.Fatalf("Bool()=%v err=%v, want true", got, err)
	}
}
