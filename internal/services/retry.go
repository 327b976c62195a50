package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alfredoptarigan/resume-optimizer/internal/pipeline"
)

// RetryExhaustedError is returned once a transient failure outlived the policy.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// retryHook runs before each backoff sleep. Returning an error stops retrying.
type retryHook func(attempt int, err error, delay time.Duration) error

// retryTransient calls fn until it succeeds, fails permanently, or the policy
// runs out. Cancellation of ctx always wins over another attempt.
func retryTransient(ctx context.Context, policy pipeline.RetryPolicy, hook retryHook, fn func(ctx context.Context) error) error {
	failures := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		failures++
		if !pipeline.IsTransient(err) {
			return err
		}
		if !policy.ShouldRetry(failures) {
			return &RetryExhaustedError{Attempts: failures, Err: err}
		}

		delay := policy.Backoff(failures)
		if hook != nil {
			if hookErr := hook(failures, err, delay); hookErr != nil {
				return hookErr
			}
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// errorCode picks the stored error code for a failed run.
func errorCode(err error) string {
	var perm *pipeline.PermanentError
	if errors.As(err, &perm) {
		return perm.Code
	}
	if pipeline.IsTimeout(err) {
		return pipeline.CodeTimeout
	}
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) || pipeline.IsTransient(err) {
		return pipeline.CodeAIUnavailable
	}
	return pipeline.CodeInternal
}
