package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gatekeeper-backend/internal/logger"
)

// Run is the handle a workflow body uses for durable steps and waits. Step
// names must be unique within one workflow; the name keys the checkpoint.
type Run struct {
	engine *Engine
	inst   *instance
}

// InstanceID returns the id of the running instance.
func (r *Run) InstanceID() string {
	return r.inst.id
}

// RetryPolicy bounds the attempts of one step.
type RetryPolicy struct {
	Limit   int           // total attempts, minimum 1
	Delay   time.Duration // pause before the next attempt
	Backoff string        // BackoffConstant or BackoffLinear
}

const (
	BackoffConstant = "constant"
	BackoffLinear   = "linear"
)

// Once is the policy for steps that must not be retried automatically.
var Once = RetryPolicy{Limit: 1}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff == BackoffLinear {
		return p.Delay * time.Duration(attempt)
	}
	return p.Delay
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps err so the step runner stops retrying and fails the
// step immediately.
func NonRetryable(err error) error {
	return &nonRetryableError{err: err}
}

func IsNonRetryable(err error) bool {
	var nre *nonRetryableError
	return errors.As(err, &nre)
}

// Step runs fn at most once per workflow lifetime. A step that already
// succeeded before a crash is skipped on replay.
func (r *Run) Step(ctx context.Context, name string, policy RetryPolicy, fn func(context.Context) error) error {
	_, err := StepValue(ctx, r, name, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// StepValue is Step for steps that produce a value. The value is checkpointed
// as JSON and decoded back on replay, so T must round-trip through JSON.
func StepValue[T any](ctx context.Context, r *Run, name string, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var result T

	saved, err := r.engine.store.GetCheckpoint(ctx, r.inst.id, name)
	if err != nil {
		return result, fmt.Errorf("failed to read checkpoint %q: %w", name, err)
	}
	if saved != nil {
		if err := json.Unmarshal(saved, &result); err != nil {
			return result, fmt.Errorf("malformed checkpoint %q: %w", name, err)
		}
		return result, nil
	}

	log := logger.WithSaga(r.inst.id)
	if policy.Limit < 1 {
		policy.Limit = 1
	}
	var lastErr error
	for attempt := 1; attempt <= policy.Limit; attempt++ {
		result, lastErr = fn(ctx)
		if lastErr == nil {
			encoded, err := json.Marshal(result)
			if err != nil {
				return result, fmt.Errorf("failed to encode checkpoint %q: %w", name, err)
			}
			if err := r.engine.store.PutCheckpoint(ctx, r.inst.id, name, encoded); err != nil {
				return result, fmt.Errorf("failed to write checkpoint %q: %w", name, err)
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if IsNonRetryable(lastErr) {
			break
		}
		if attempt < policy.Limit {
			log.Warn("Step attempt failed, retrying", "step", name, "attempt", attempt, "error", lastErr)
			if err := sleep(ctx, policy.delay(attempt)); err != nil {
				return result, err
			}
		}
	}
	return result, fmt.Errorf("step %q failed: %w", name, lastErr)
}

// WaitResult is the outcome of WaitAny: the event that arrived, or the
// deadline (Type empty).
type WaitResult struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TimedOut reports whether the wait ended by reaching its deadline.
func (w *WaitResult) TimedOut() bool {
	return w.Type == ""
}

// WaitAny blocks until one of the named event types arrives or the deadline
// passes. Event types are checked in argument order, and always before the
// deadline, so a signal racing the timer wins even when both are ready. The
// outcome is checkpointed under name; the consumed event is marked in the
// store after the checkpoint commits, which can redeliver it once after a
// badly timed crash.
func (r *Run) WaitAny(ctx context.Context, name string, deadline time.Time, types ...string) (*WaitResult, error) {
	saved, err := r.engine.store.GetCheckpoint(ctx, r.inst.id, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %q: %w", name, err)
	}
	if saved != nil {
		result := &WaitResult{}
		if err := json.Unmarshal(saved, result); err != nil {
			return nil, fmt.Errorf("malformed checkpoint %q: %w", name, err)
		}
		return result, nil
	}

	for {
		for _, eventType := range types {
			ev := r.inst.take(eventType)
			if ev == nil {
				continue
			}
			result := &WaitResult{Type: ev.Type, Payload: ev.Payload}
			if err := r.commitWait(ctx, name, result); err != nil {
				return nil, err
			}
			if ev.Seq > 0 {
				if err := r.engine.store.MarkEventConsumed(ctx, ev.Seq); err != nil {
					logger.WithSaga(r.inst.id).Warn("Failed to mark event consumed", "seq", ev.Seq, "error", err)
				}
			}
			return result, nil
		}

		now := r.engine.now()
		if !now.Before(deadline) {
			result := &WaitResult{}
			if err := r.commitWait(ctx, name, result); err != nil {
				return nil, err
			}
			return result, nil
		}

		timer := time.NewTimer(deadline.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-r.inst.arrived:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (r *Run) commitWait(ctx context.Context, name string, result *WaitResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint %q: %w", name, err)
	}
	if err := r.engine.store.PutCheckpoint(ctx, r.inst.id, name, encoded); err != nil {
		return fmt.Errorf("failed to write checkpoint %q: %w", name, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
