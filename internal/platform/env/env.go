package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup resolves a single environment variable.
type Lookup func(key string) (string, bool)

// OS reads the process environment.
var OS Lookup = os.LookupEnv

// Map returns a Lookup backed by a fixed set of variables.
func Map(vars map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func (l Lookup) lookup(key string) (string, bool) {
	if l == nil {
		return os.LookupEnv(key)
	}
	return l(key)
}

// Get returns the raw value of key.
func (l Lookup) Get(key string) (string, bool) {
	return l.lookup(key)
}

// Set reports whether key is present and non-blank.
func (l Lookup) Set(key string) bool {
	v, ok := l.lookup(key)
	return ok && strings.TrimSpace(v) != ""
}

func (l Lookup) String(key string, def string) string {
	if v, ok := l.lookup(key); ok {
		return v
	}
	return def
}

func (l Lookup) Duration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := l.lookup(key); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

func (l Lookup) Bool(key string, def bool) (bool, error) {
	if v, ok := l.lookup(key); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return b, nil
	}
	return def, nil
}

func (l Lookup) Int(key string, def int) (int, error) {
	if v, ok := l.lookup(key); ok {
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}

func String(key string, def string) string {
	return OS.String(key, def)
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return OS.Duration(key, def)
}

func Bool(key string, def bool) (bool, error) {
	return OS.Bool(key, def)
}

func Int(key string, def int) (int, error) {
	return OS.Int(key, def)
}
