package config

import "strings"

// ValidationError aggregates configuration issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
