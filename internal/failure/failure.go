// Package failure classifies dispatcher errors so the process can decide
// between exiting as a configuration problem, an infrastructure fault, or a
// failure of the task logic it ran.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// ConfigurationError is fatal and never retried.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration: " + e.Msg
	}
	return "configuration: " + e.Msg + ": " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SystemAssertionError reports a violated internal invariant, typically a
// disagreement between the scheduler and data produced upstream.
type SystemAssertionError struct {
	Msg string
}

func (e *SystemAssertionError) Error() string {
	return "system assertion: " + e.Msg
}

// TransferError wraps storage backend failures. Transfers are safe to retry.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// UserError marks an error raised by task logic. The message is the task's
// own; the wrapper only records which task raised it.
type UserError struct {
	Task string
	Err  error
}

func (e *UserError) Error() string { return e.Err.Error() }

func (e *UserError) Unwrap() error { return e.Err }

func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// Config wraps err as a configuration error.
func Config(msg string, err error) error {
	return &ConfigurationError{Msg: msg, Err: err}
}

func Assertf(format string, args ...any) error {
	return &SystemAssertionError{Msg: fmt.Sprintf(format, args...)}
}

// Transfer wraps err as a transfer error unless it already is one.
func Transfer(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransferError
	if errors.As(err, &te) {
		return err
	}
	return &TransferError{Op: op, Path: path, Err: err}
}

// User attributes err to task logic. Errors that are already classified as
// infrastructure failures keep their classification.
func User(task string, err error) error {
	if err == nil {
		return nil
	}
	switch Kind(err) {
	case KindSystem:
		return &UserError{Task: task, Err: err}
	default:
		return err
	}
}

// IsRetryable reports whether err is a transient transfer failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransferError
	return errors.As(err, &te)
}

const (
	KindNone          = ""
	KindConfiguration = "configuration"
	KindAssertion     = "system_assertion"
	KindTransfer      = "transfer"
	KindUser          = "user"
	KindSystem        = "system"
)

// Kind names the class of err for logs and exit handling.
func Kind(err error) string {
	if err == nil {
		return KindNone
	}
	var (
		ce *ConfigurationError
		ae *SystemAssertionError
		te *TransferError
		ue *UserError
	)
	switch {
	case errors.As(err, &ue):
		return KindUser
	case errors.As(err, &ce):
		return KindConfiguration
	case errors.As(err, &ae):
		return KindAssertion
	case errors.As(err, &te):
		return KindTransfer
	default:
		return KindSystem
	}
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	switch Kind(err) {
	case KindNone:
		return 0
	case KindConfiguration:
		return 2
	default:
		return 1
	}
}
