package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mproxy/pkg/message"
	"mproxy/pkg/worker"
)

// Outcome labels used in logs and metrics.
const (
	OutcomeSuccess        = "success"
	OutcomeRetryable      = "retryable"
	OutcomeFatal          = "fatal"
	OutcomeUnknownChannel = "unknown_channel"
	OutcomeError          = "error"
)

// Error codes returned to callers.
const (
	CodeUnknownChannel = "unknown_channel"
	CodeUnavailable    = "temporarily_unavailable"
	CodeDeliveryFailed = "delivery_failed"
	CodeInternal       = "internal_error"
)

const (
	StatusAccepted = "accepted"
	StatusFailed   = "error"
)

// Hints longer than this are not forwarded as a Retry-After header.
const maxRetryAfterHeader = 64

// UnknownChannelLabel replaces the requested name when observing dispatches to unconfigured channels.
const UnknownChannelLabel = "_unknown"

// Resolver finds the worker of a channel.
type Resolver interface {
	Resolve(channel string) (worker.Worker, error)
}

// Observer receives one call per dispatch.
type Observer interface {
	ObserveDispatch(channel string, outcome string, elapsed time.Duration)
}

// Controller runs single-attempt dispatches and maps outcomes to caller-facing results.
type Controller struct {
	workers  Resolver
	observer Observer
	log      *slog.Logger
	now      func() time.Time
}

// Response is the JSON body of a send result.
type Response struct {
	Status  string       `json:"status"`
	Channel string       `json:"channel,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail describes why a message was not delivered.
type ErrorDetail struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	BackendStatus int    `json:"backend_status,omitempty"`
	RetryAfter    string `json:"retry_after,omitempty"`
}

// Result is the caller-facing outcome of one dispatch.
type Result struct {
	Status     int
	RetryAfter string
	Body       Response
	Err        error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// New creates a controller. observer may be nil.
func New(workers Resolver, observer Observer, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}

	return &Controller{
		workers:  workers,
		observer: observer,
		log:      log.With("component", "dispatch.controller"),
		now:      time.Now,
	}
}

// Send delivers msg through its channel worker exactly once.
func (c *Controller) Send(ctx context.Context, msg message.Message) Result {
	startedAt := c.now()

	w, err := c.workers.Resolve(msg.Channel)
	if err != nil {
		result := c.failure(msg.Channel, err)
		label := msg.Channel
		if errors.Is(err, worker.ErrUnknownChannel) {
			label = UnknownChannelLabel
		}
		c.observe(label, err, startedAt)
		return result
	}

	err = w.Operate(ctx, msg)
	c.observe(msg.Channel, err, startedAt)
	if err != nil {
		return c.failure(msg.Channel, err)
	}

	c.log.Debug("Message delivered", "channel", msg.Channel, "duration_ms", time.Since(startedAt).Milliseconds())
	return Result{
		Status: http.StatusOK,
		Body:   Response{Status: StatusAccepted, Channel: msg.Channel},
	}
}

func (c *Controller) failure(channel string, err error) Result {
	var (
		retryable *worker.RetryableError
		fatal     *worker.FatalError
	)

	switch {
	case errors.Is(err, worker.ErrUnknownChannel):
		c.log.Warn("Unknown channel", "channel", channel)
		return failed(channel, http.StatusNotFound, err, ErrorDetail{Code: CodeUnknownChannel, Message: "channel is not configured"})

	case errors.As(err, &retryable):
		hint := strings.TrimSpace(retryable.RetryAfter)
		if _, ok := worker.ParseRetryAfter(hint, c.now()); !ok || len(hint) > maxRetryAfterHeader {
			hint = ""
		}
		c.log.Warn("Channel temporarily unavailable", "channel", channel, "status", retryable.Status, "reason", retryable.Reason, "retry_after", hint)
		result := failed(channel, http.StatusServiceUnavailable, err, ErrorDetail{
			Code:          CodeUnavailable,
			Message:       retryable.Reason,
			BackendStatus: retryable.Status,
			RetryAfter:    hint,
		})
		result.RetryAfter = hint
		return result

	case errors.As(err, &fatal):
		c.log.Error("Channel rejected the message", "channel", channel, "status", fatal.Status, "reason", fatal.Reason, "error", fatal.Err)
		return failed(channel, http.StatusBadGateway, err, ErrorDetail{
			Code:          CodeDeliveryFailed,
			Message:       fatal.Reason,
			BackendStatus: fatal.Status,
		})

	default:
		c.log.Error("Dispatch failed", "channel", channel, "error", err)
		return failed(channel, http.StatusInternalServerError, err, ErrorDetail{Code: CodeInternal, Message: "internal error"})
	}
}

func failed(channel string, status int, err error, detail ErrorDetail) Result {
	return Result{
		Status: status,
		Err:    err,
		Body:   Response{Status: StatusFailed, Channel: channel, Error: &detail},
	}
}

func (c *Controller) observe(channel string, err error, startedAt time.Time) {
	if c.observer == nil {
		return
	}

	c.observer.ObserveDispatch(channel, Classify(err), c.now().Sub(startedAt))
}

// Classify maps a dispatch error to its outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, worker.ErrUnknownChannel):
		return OutcomeUnknownChannel
	case worker.IsRetryable(err):
		return OutcomeRetryable
	case worker.IsFatal(err):
		return OutcomeFatal
	default:
		return OutcomeError
	}
}
