// Package retry implements the two retry tiers of an export run: bounded
// exponential backoff around a single page fetch, and a coarse fixed-wait
// retry around the whole fetch-and-write pipeline.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/breachcase/internal/failure"
	"github.com/jonathan/breachcase/internal/logging"
	"github.com/jonathan/breachcase/internal/records"
)

// MaxJitter bounds the random delay added after each doubling.
const MaxJitter = 250 * time.Millisecond

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Jitter returns a uniformly random duration in [0, MaxJitter].
func Jitter() time.Duration {
	return rand.N(MaxJitter + 1)
}

// Operation performs one fetch attempt.
type Operation func(ctx context.Context) records.Outcome

// Fetcher retries an Operation on RetryableFailure outcomes.
type Fetcher struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       Sleeper
	Jitter      func() time.Duration
	Logger      *zap.SugaredLogger
}

// NewFetcher returns a Fetcher using real sleeps and jitter.
func NewFetcher(maxAttempts int, baseDelay time.Duration, logger *zap.SugaredLogger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Fetcher{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Sleep:       Sleep,
		Jitter:      Jitter,
		Logger:      logger,
	}
}

// Attempt runs op until it succeeds, fails fatally, or the attempt budget is
// spent. The returned count is the number of times op was called.
//
// When the budget is spent the last RetryableFailure is returned as is; the
// caller decides that it is terminal. Cancellation while waiting yields a
// FatalFailure carrying an interrupt.
func (f *Fetcher) Attempt(ctx context.Context, op Operation) (records.Outcome, int) {
	maxAttempts := f.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := f.BaseDelay

	attempts := 0
	for {
		outcome := op(ctx)
		attempts++

		if outcome.Kind != records.RetryableFailure {
			return outcome, attempts
		}
		if attempts >= maxAttempts {
			f.Logger.Warnw("Retry budget exhausted",
				logging.FieldAttempt, attempts,
				logging.FieldMaxAttempts, maxAttempts,
				logging.FieldError, outcome.Err)
			return outcome, attempts
		}

		f.Logger.Warnw("Retryable failure, backing off",
			logging.FieldAttempt, attempts,
			logging.FieldMaxAttempts, maxAttempts,
			logging.FieldDelay, delay.String(),
			logging.FieldError, outcome.Err)

		if err := f.Sleep(ctx, delay); err != nil {
			return records.Fatal(failure.Wrap(failure.KindInterrupted, "retry backoff", err)), attempts
		}
		delay = delay*2 + f.jitter()
	}
}

func (f *Fetcher) jitter() time.Duration {
	if f.Jitter == nil {
		return 0
	}
	return f.Jitter()
}
