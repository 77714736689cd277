package kernel

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryPolicy configures Retry. Delays grow as Base*2^attempt, capped at
// Max, plus a jitter derived from the model id and attempt index so the
// same request always sees the same schedule.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	MaxJitter   time.Duration
	// Retryable decides whether a failed result is retried. Defaults to
	// TRANSPORT failures only.
	Retryable func(RunResult) bool
}

// DefaultRetryPolicy retries transport failures three times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Base:        50 * time.Millisecond,
		Max:         2 * time.Second,
		MaxJitter:   25 * time.Millisecond,
	}
}

// Backoff returns the delay before attempt (0-based; attempt 0 has none).
func (p RetryPolicy) Backoff(modelID string, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	shift := attempt
	if shift > 30 {
		shift = 30
	}
	delay := p.Base * time.Duration(int64(1)<<shift)
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay + p.jitter(modelID, attempt)
}

func (p RetryPolicy) jitter(modelID string, attempt int) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", modelID, attempt)))
	basis := binary.BigEndian.Uint64(sum[:8])
	return time.Duration(basis % uint64(p.MaxJitter)) //nolint:gosec // MaxJitter is positive
}

func (p RetryPolicy) retryable(res RunResult) bool {
	if p.Retryable != nil {
		return p.Retryable(res)
	}
	return res.Code() == CodeTransport
}

// Retry re-runs failed requests the policy marks retryable. The last result
// is returned unchanged, so a permanently failing port still reports its
// own failure.
func Retry(next Port, policy RetryPolicy) Port {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return PortFunc(func(ctx context.Context, req RunRequest) RunResult {
		var res RunResult
		for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
			if d := policy.Backoff(req.Model.ID, attempt); d > 0 {
				t := time.NewTimer(d)
				select {
				case <-ctx.Done():
					t.Stop()
					return FailWith(CodeTimeout, ctx.Err())
				case <-t.C:
				}
			}
			res = next.Run(ctx, req)
			if res.OK || !policy.retryable(res) {
				return res
			}
		}
		return res
	})
}
