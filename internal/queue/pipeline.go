package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docingest/internal/metrics"
	"github.com/nikhilbhutani/docingest/internal/models"
)

// ErrHalt ends a pipeline early without failing it. A step returns an error
// wrapping ErrHalt once it has written a terminal outcome itself.
var ErrHalt = errors.New("pipeline halted")

const (
	defaultAttempts = 3
	hookTimeout     = 30 * time.Second
	// taskGrace is added to a pipeline's Deadline to get the task timeout,
	// leaving room for the failure hook.
	taskGrace = hookTimeout + 30*time.Second
)

// TaskTimeout is the asynq timeout for a task whose pipeline runs under
// deadline. The pipeline gives up first, so the task ends with SkipRetry
// and the failure hook runs once.
func TaskTimeout(deadline time.Duration) time.Duration {
	return deadline + taskGrace
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The step fails on this attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type Step struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	// Fallback, when set, handles a step that used up its attempts. If it
	// returns nil the pipeline moves on to the next step.
	Fallback func(ctx context.Context, err error) error
}

// PipelineError is returned once a pipeline fails for good. It wraps
// asynq.SkipRetry so the task is archived instead of re-run.
type PipelineError struct {
	Pipeline string
	Step     string
	Reason   string // models.FailureReasonTimeout or models.FailureReasonError
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: step %s failed (%s): %v", e.Pipeline, e.Step, e.Reason, e.Err)
}

func (e *PipelineError) Unwrap() []error {
	return []error{e.Err, asynq.SkipRetry}
}

// FailureHook runs exactly once when a pipeline fails. It gets a context
// detached from the job's deadline.
type FailureHook func(ctx context.Context, perr *PipelineError)

type Pipeline struct {
	Name     string
	Steps    []Step
	Attempts int
	// Deadline bounds the whole run, retries included. Zero means no bound
	// beyond ctx.
	Deadline  time.Duration
	Backoff   func(attempt int) time.Duration
	OnFailure FailureHook
	Logger    *slog.Logger
}

// Backoff is the quadratic retry delay: 500ms, 2s, 4.5s, ...
func Backoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * 500 * time.Millisecond
}

// Run executes the steps in order. Each step is retried on error up to
// Attempts times, each attempt bounded by the step's timeout.
func (p *Pipeline) Run(ctx context.Context) error {
	log := p.logger()
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	for _, step := range p.Steps {
		err := p.runStep(ctx, log, step)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrHalt) {
			log.Info("pipeline halted", "step", step.Name, "reason", err.Error())
			return nil
		}
		if step.Fallback != nil && ctx.Err() == nil {
			ferr := step.Fallback(ctx, err)
			if ferr == nil {
				log.Warn("step failed, continuing after fallback", "step", step.Name, "error", err)
				continue
			}
			err = fmt.Errorf("%w (fallback: %v)", err, ferr)
		}

		perr := &PipelineError{
			Pipeline: p.Name,
			Step:     step.Name,
			Reason:   failureReason(ctx, err),
			Err:      err,
		}
		p.fail(ctx, log, perr)
		return perr
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, log *slog.Logger, step Step) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Backoff
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		err = runAttempt(ctx, step)
		metrics.RecordStep(p.Name, step.Name, stepStatus(err), time.Since(start))

		if err == nil || errors.Is(err, ErrHalt) {
			return err
		}
		var perm permanentError
		if errors.As(err, &perm) || ctx.Err() != nil || attempt == attempts {
			break
		}

		log.Warn("step attempt failed", "step", step.Name, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff(attempt)):
		}
	}
	return err
}

// runAttempt runs one attempt in its own goroutine so a step that ignores
// cancellation still cannot hold the pipeline past its timeout.
func runAttempt(ctx context.Context, step Step) error {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("step %s panicked: %v", step.Name, r)
			}
		}()
		done <- step.Run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("step %s: %w", step.Name, ctx.Err())
	}
}

func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, perr *PipelineError) {
	metrics.PipelineFailures.WithLabelValues(p.Name, perr.Reason).Inc()
	log.Error("pipeline failed", "step", perr.Step, "reason", perr.Reason, "error", perr.Err)

	if p.OnFailure == nil {
		return
	}

	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error("failure hook panicked", "step", perr.Step, "panic", r)
		}
	}()
	p.OnFailure(hookCtx, perr)
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger.With("pipeline", p.Name)
	}
	return slog.With("pipeline", p.Name)
}

func failureReason(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.FailureReasonTimeout
	}
	return models.FailureReasonError
}

func stepStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrHalt):
		return "halted"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}
