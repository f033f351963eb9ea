package dispatch

import (
	"context"
	"errors"
	"time"

	"mproxy/pkg/message"
	"mproxy/pkg/worker"
)

// RetryPolicy controls the optional retry loop around Controller.Send.
//
// The HTTP gateway never retries; callers opt in explicitly.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

type SendFunc func(ctx context.Context, msg message.Message) Result

const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
)

// Retry repeats retryable failures until the policy is exhausted.
//
// The backend delay hint wins over the computed backoff, capped at MaxDelay.
func Retry(ctx context.Context, send SendFunc, msg message.Message, policy RetryPolicy, onRetry func(attempt int, delay time.Duration, last Result)) Result {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var result Result
	for attempt := 1; ; attempt++ {
		result = send(ctx, msg)

		var retryable *worker.RetryableError
		if result.OK() || !errors.As(result.Err, &retryable) || attempt >= maxAttempts {
			return result
		}

		delay := policy.delay(attempt, retryable, time.Now())
		if onRetry != nil {
			onRetry(attempt, delay, result)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result
		}
	}
}

func (p RetryPolicy) delay(attempt int, retryable *worker.RetryableError, now time.Time) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	if hint, ok := retryable.Delay(now); ok {
		return min(hint, maxDelay)
	}

	delay := p.InitialDelay
	if delay <= 0 {
		delay = defaultInitialDelay
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}

	return min(delay, maxDelay)
}
