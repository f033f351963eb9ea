package worker

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownChannel is returned when no worker is bound to the requested channel.
var ErrUnknownChannel = errors.New("unknown channel")

// ConfigError describes a channel that could not be constructed at startup.
type ConfigError struct {
	Channel string
	Worker  string
	Err     error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("configure channel")
	if e.Channel != "" {
		b.WriteString(" ")
		b.WriteString(strconv.Quote(e.Channel))
	}
	if e.Worker != "" {
		b.WriteString(" (worker ")
		b.WriteString(strconv.Quote(e.Worker))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// RetryableError is a delivery failure the caller may retry, optionally after RetryAfter.
//
// RetryAfter keeps the backend's hint verbatim: either a number of seconds or an HTTP date.
type RetryableError struct {
	Status     int
	Reason     string
	RetryAfter string
}

func (e *RetryableError) Error() string {
	if e == nil {
		return ""
	}

	msg := fmt.Sprintf("delivery temporarily unavailable, status: %d, reason: %s", e.Status, e.Reason)
	if e.RetryAfter != "" {
		msg += ", retry after: " + e.RetryAfter
	}

	return msg
}

// Delay converts the hint into a wait duration. ok is false without a usable hint.
func (e *RetryableError) Delay(now time.Time) (time.Duration, bool) {
	if e == nil {
		return 0, false
	}

	return ParseRetryAfter(e.RetryAfter, now)
}

// FatalError is a delivery failure that will not succeed on retry.
type FatalError struct {
	Status int
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e == nil {
		return ""
	}

	msg := fmt.Sprintf("delivery failed, status: %d, reason: %s", e.Status, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// maxRetryAfterSeconds keeps a delay-seconds hint inside time.Duration.
const maxRetryAfterSeconds = int64(math.MaxInt64 / int64(time.Second))

// ParseRetryAfter accepts delay-seconds (digits only) or an HTTP date, as allowed for the Retry-After header.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if isDigits(value) {
		seconds, err := strconv.ParseInt(value, 10, 64)
		if err != nil || seconds > maxRetryAfterSeconds {
			seconds = maxRetryAfterSeconds
		}
		return time.Duration(seconds) * time.Second, true
	}

	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}

	return max(at.Sub(now), 0), true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return s != ""
}
