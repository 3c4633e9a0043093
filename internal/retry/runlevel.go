package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/logging"
)

// RunPolicy re-invokes a whole pipeline after it fails. Unlike Fetcher the
// wait between attempts is fixed.
type RunPolicy struct {
	Retries int
	Wait    time.Duration
	Sleep   Sleeper
	// ShouldRetry decides whether an error is worth another full attempt.
	// Defaults to failure.Retryable.
	ShouldRetry func(error) bool
	Logger      *zap.SugaredLogger
}

// Do calls fn up to Retries+1 times. attempt starts at 1.
func (p RunPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = failure.Retryable
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	total := p.Retries + 1
	var err error
	for attempt := 1; attempt <= total; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt == total || !shouldRetry(err) {
			return err
		}

		logger.Warnw("Run attempt failed, retrying whole run",
			logging.FieldAttempt, attempt,
			logging.FieldMaxAttempts, total,
			logging.FieldWait, p.Wait.String(),
			logging.FieldError, err)

		if serr := sleep(ctx, p.Wait); serr != nil {
			return failure.Wrap(failure.KindInterrupted, "run retry wait", serr)
		}
	}
	return err
}
