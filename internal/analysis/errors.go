package analysis

import (
	"context"
	"fmt"

	"github.com/gaimlab/teachlens/internal/clients"
)

// StageError wraps a failure of one pipeline stage. The orchestrator moves
// the job to failed and attaches the error detail. Transient marks
// backend-unavailable failures that already consumed their retry.
type StageError struct {
	Stage     string
	Transient bool
	Err       error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) *StageError {
	return &StageError{Stage: stage, Transient: clients.IsTransient(err), Err: err}
}

// retryOnce retries a transient backend failure one time. Context
// cancellation and deadline expiry are never retried, and neither are
// rejected-request failures: a backend that refused the input once will
// refuse it again.
func retryOnce[T any](ctx context.Context, call func() (T, error)) (T, error) {
	out, err := call()
	if err == nil || ctx.Err() != nil || !clients.IsTransient(err) {
		return out, err
	}
	return call()
}
