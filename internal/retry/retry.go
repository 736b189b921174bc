// Package retry provides a bounded exponential backoff policy and an executor
// that applies it to an operation. The policy itself is pure: it only computes
// how many attempts are allowed and how long to wait between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dvloznov/statement-sync/internal/logger"
)

const maxShift = 62

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration

	// MaxDelay caps the wait between attempts. Zero means no cap.
	MaxDelay time.Duration

	// Jitter spreads each wait uniformly over [delay/2, delay).
	Jitter bool
}

// DefaultPolicy returns the policy used for completion and platform calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Attempts returns the number of attempts the policy allows, never less than one.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the un-jittered wait after the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	} else if shift > maxShift {
		shift = maxShift
	}

	multiplier := int64(1) << shift
	var d time.Duration
	if int64(p.BaseDelay) > math.MaxInt64/multiplier {
		d = time.Duration(math.MaxInt64)
	} else {
		d = time.Duration(int64(p.BaseDelay) * multiplier)
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Delay returns the wait after the given failed attempt, with jitter applied if enabled.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Backoff(attempt)
	if !p.Jitter || d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(d-half)))
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Always treats every error as retryable.
func Always(error) bool { return true }

// Op is one attempt of an operation. attempt is 1-based.
type Op func(ctx context.Context, attempt int) error

// ExhaustedError is returned when every allowed attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs op until it succeeds, returns an error the classifier rejects, or the
// policy runs out of attempts. A nil classifier retries every error.
// Cancellation of ctx while waiting stops the loop; the returned error then
// matches both ctx.Err() and the last operation error.
func Do(ctx context.Context, p Policy, retryable Classifier, op Op) error {
	if retryable == nil {
		retryable = Always
	}
	log := logger.FromContext(ctx)
	attempts := p.Attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := p.Delay(attempt)
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("backoff", wait).
			Msg("Attempt failed, retrying")

		if err := sleepWithContext(ctx, wait); err != nil {
			return errors.Join(err, lastErr)
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry wait interrupted: %w", ctx.Err())
	}
}
