package worker

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"mproxy/pkg/message"
)

// KindStub selects the simulation worker used for staging and tests.
const KindStub = "stub"

const stubReason = "Emulate error in request processing"

// StubParams configures the simulated delay and failure rates. Delays are in seconds.
type StubParams struct {
	MinDelay    int `json:"min_delay" validate:"gte=0"`
	MaxDelay    int `json:"max_delay" validate:"gtefield=MinDelay"`
	DelayChance int `json:"delay_chance" validate:"gte=0,lte=100"`
	ErrorChance int `json:"error_chance" validate:"gte=0,lte=100"`
}

// DefaultStubParams returns the defaults applied before decoding a stub channel.
func DefaultStubParams() StubParams {
	return StubParams{MinDelay: 1, MaxDelay: 5, DelayChance: 20, ErrorChance: 5}
}

// Rand is the random source of a Stub. Implementations must be safe for concurrent use.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int {
	return rand.IntN(n)
}

// Stub sleeps for a random delay and then succeeds or fails by chance.
type Stub struct {
	channel     string
	minDelay    time.Duration
	maxDelay    time.Duration
	delayChance int
	errorChance int
	unit        time.Duration
	rand        Rand
	log         *slog.Logger
}

type StubOption func(*Stub)

func WithRand(r Rand) StubOption {
	return func(s *Stub) {
		if r != nil {
			s.rand = r
		}
	}
}

// WithDelayUnit changes the unit applied to min_delay and max_delay.
func WithDelayUnit(unit time.Duration) StubOption {
	return func(s *Stub) {
		if unit > 0 {
			s.unit = unit
		}
	}
}

// NewStubFromSpec decodes stub params and builds the worker.
func NewStubFromSpec(spec Spec) (Worker, error) {
	params := DefaultStubParams()
	if err := decodeParams(spec.Params, &params); err != nil {
		return nil, err
	}

	return NewStub(spec.Channel, params, spec.Logger), nil
}

// NewStub builds a simulation worker.
func NewStub(channel string, params StubParams, log *slog.Logger, opts ...StubOption) *Stub {
	s := &Stub{
		channel:     channel,
		delayChance: params.DelayChance,
		errorChance: params.ErrorChance,
		unit:        time.Second,
		rand:        globalRand{},
		log:         componentLogger(log, channel, KindStub),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.minDelay = time.Duration(params.MinDelay) * s.unit
	s.maxDelay = time.Duration(params.MaxDelay) * s.unit

	return s
}

// Operate waits a random delay, then draws the outcome.
func (s *Stub) Operate(ctx context.Context, msg message.Message) error {
	delay := s.drawDelay()
	coin := s.rand.IntN(101)

	s.log.Debug("Sleeping", "delay", delay)
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &FatalError{Status: 0, Reason: "request cancelled", Err: ctx.Err()}
		}
	}

	switch {
	case coin <= s.errorChance:
		s.log.Info("Channel rejected the message", "delay", delay, "content", message.Preview(msg.Text))
		return &FatalError{Status: http.StatusBadRequest, Reason: stubReason}
	case coin <= s.delayChance:
		s.log.Info("Channel took too long to accept the message", "delay", delay, "content", message.Preview(msg.Text))
		return &RetryableError{Status: http.StatusServiceUnavailable, Reason: stubReason}
	default:
		s.log.Info("Channel accepted the message", "delay", delay, "content", message.Preview(msg.Text))
		return nil
	}
}

func (s *Stub) drawDelay() time.Duration {
	span := int((s.maxDelay - s.minDelay) / s.unit)
	if span <= 0 {
		return s.minDelay
	}

	return s.minDelay + time.Duration(s.rand.IntN(span+1))*s.unit
}
