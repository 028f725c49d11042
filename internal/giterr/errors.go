// Package giterr defines the typed failures the gating evaluator and
// dispatcher use to classify errors per the error handling design (§7):
// UserFacing, Transient, Fatal and NotMyJob.
package giterr

import (
	"errors"
	"fmt"
)

// UserFacingError carries a stable status code (§6) and the template
// parameters the messenger renders into a PR comment. The job that raised
// it still completes successfully — only the user-visible outcome differs.
type UserFacingError struct {
	Code   int
	Params map[string]any
	msg    string
}

// NewUserFacing builds a UserFacingError for the given status code.
func NewUserFacing(code int, msg string, params map[string]any) *UserFacingError {
	return &UserFacingError{Code: code, Params: params, msg: msg}
}

func (e *UserFacingError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("status %d: %s", e.Code, e.msg)
	}
	return fmt.Sprintf("status %d", e.Code)
}

// AsUserFacing reports whether err (or something it wraps) is a
// UserFacingError, returning it.
func AsUserFacing(err error) (*UserFacingError, bool) {
	var target *UserFacingError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// TransientError marks failures the dispatcher should retry with backoff:
// git-host/issue-tracker 429s and 5xxs, network timeouts.
type TransientError struct {
	msg string
	err error
}

// NewTransient wraps err as a retryable failure.
func NewTransient(msg string, err error) *TransientError {
	return &TransientError{msg: msg, err: err}
}

func (e *TransientError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *TransientError) Unwrap() error { return e.err }

// IsTransient reports whether err originated from a TransientError.
func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

// FatalError marks a bug or unexpected repository shape: the job is
// recorded failed with a traceback, and the user sees only a generic
// "internal error" comment.
type FatalError struct {
	msg       string
	err       error
	Traceback string
}

// NewFatal wraps err as a non-recoverable bug.
func NewFatal(msg string, err error, traceback string) *FatalError {
	return &FatalError{msg: msg, err: err, Traceback: traceback}
}

func (e *FatalError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *FatalError) Unwrap() error { return e.err }

// IsFatal reports whether err originated from a FatalError.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// NotMyJobError marks a PR whose destination isn't under the core's
// control. The dispatcher exits silently: no message, no retry.
type NotMyJobError struct {
	Reason string
}

// NewNotMyJob builds a NotMyJobError.
func NewNotMyJob(reason string) *NotMyJobError {
	return &NotMyJobError{Reason: reason}
}

func (e *NotMyJobError) Error() string {
	return fmt.Sprintf("not my job: %s", e.Reason)
}

// IsNotMyJob reports whether err originated from a NotMyJobError.
func IsNotMyJob(err error) bool {
	var target *NotMyJobError
	return errors.As(err, &target)
}
