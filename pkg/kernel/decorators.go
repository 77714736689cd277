package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Recover wraps a port so that a panic inside it is reported as an
// INTERNAL failure instead of crossing the boundary.
func Recover(next Port) Port {
	return PortFunc(func(ctx context.Context, req RunRequest) (res RunResult) {
		defer func() {
			if r := recover(); r != nil {
				res = Fail(CodeInternal, "kernel port panicked: %v", r)
			}
		}()
		return next.Run(ctx, req)
	})
}

// WithTimeout bounds a port call. When d elapses (or ctx ends) first, the
// caller gets {ok:false, error:{code:"TIMEOUT", message:"timeout"}} and the
// inner call is cancelled through its context. The inner goroutine finishes
// into a buffered channel, so it never blocks after the timeout.
func WithTimeout(next Port, d time.Duration) Port {
	return PortFunc(func(ctx context.Context, req RunRequest) RunResult {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan RunResult, 1)
		go func() {
			done <- Recover(next).Run(ctx, req)
		}()

		select {
		case res := <-done:
			return res
		case <-ctx.Done():
			return RunResult{OK: false, Error: Failure{Code: CodeTimeout, Message: "timeout"}}
		}
	})
}

// RateLimited gates a port behind limiter. A wait that cannot complete
// before ctx ends becomes a TIMEOUT failure; the inner port is not called.
func RateLimited(next Port, limiter *rate.Limiter) Port {
	return PortFunc(func(ctx context.Context, req RunRequest) RunResult {
		if err := limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Fail(CodeTimeout, "rate limit wait aborted: %v", err)
			}
			return FailWith(CodeTimeout, fmt.Errorf("rate limit: %w", err))
		}
		return next.Run(ctx, req)
	})
}

// NewLimiter builds a token bucket allowing perSecond runs with burst.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
