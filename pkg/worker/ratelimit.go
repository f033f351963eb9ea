package worker

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"mproxy/pkg/message"

	"golang.org/x/time/rate"
)

// RateLimit caps how fast a channel accepts messages.
type RateLimit struct {
	PerSecond float64 `json:"per_second" validate:"gt=0"`
	Burst     int     `json:"burst" validate:"gte=0"`
}

// Limited rejects calls that exceed the channel rate instead of queueing them.
type Limited struct {
	next    Worker
	limiter *rate.Limiter
	now     func() time.Time
}

// NewLimited wraps next with a token bucket. Burst defaults to 1.
func NewLimited(next Worker, limit RateLimit) *Limited {
	burst := limit.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(limit.PerSecond), burst),
		now:     time.Now,
	}
}

func (l *Limited) Operate(ctx context.Context, msg message.Message) error {
	now := l.now()
	reservation := l.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return &FatalError{Status: http.StatusTooManyRequests, Reason: "channel rate limit cannot be satisfied"}
	}

	if wait := reservation.DelayFrom(now); wait > 0 {
		reservation.CancelAt(now)
		return &RetryableError{
			Status:     http.StatusTooManyRequests,
			Reason:     "channel rate limit exceeded",
			RetryAfter: strconv.Itoa(int(math.Ceil(wait.Seconds()))),
		}
	}

	return l.next.Operate(ctx, msg)
}

func (l *Limited) Unwrap() Worker {
	return l.next
}
