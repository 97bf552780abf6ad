package llm

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies inference failures.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureUnreachable FailureKind = "unreachable"
	FailureModelError  FailureKind = "model_error"
)

// Failure is the typed error returned by inference clients.
type Failure struct {
	Kind   FailureKind
	Detail string
	Cause  error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// KindOf returns the failure kind of err, or "" if err is not a *Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// transportFailure maps a transport error to a Failure. A caller cancellation is
// returned unchanged so that the caller can tell it apart from backend problems.
func transportFailure(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, Detail: "request timed out", Cause: err}
	}
	return &Failure{Kind: FailureUnreachable, Detail: "unable to reach model service", Cause: err}
}
