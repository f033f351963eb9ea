package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

// RequestTimeout bounds one backend request, connection and body read included.
const RequestTimeout = 30 * time.Second

const maxResponseBytes = 1 << 20

// httpReply is the transport-level view of one backend response.
type httpReply struct {
	Status     int
	RetryAfter string
	JSON       bool
	Body       []byte
}

// httpTarget issues single JSON requests against one fixed backend endpoint.
type httpTarget struct {
	url     string
	method  string
	client  *http.Client
	timeout time.Duration
}

func newHTTPTarget(url string, method string, client *http.Client) httpTarget {
	if method == "" {
		method = http.MethodPost
	}
	if client == nil {
		client = &http.Client{Timeout: RequestTimeout}
	}

	return httpTarget{url: url, method: method, client: client, timeout: RequestTimeout}
}

// execute sends payload as JSON and reads the whole response.
//
// Transport failures come back as *FatalError: they are not backend-signalled conditions.
func (t httpTarget) execute(ctx context.Context, payload any) (httpReply, error) {
	timeout := t.timeout
	if timeout <= 0 {
		timeout = RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return httpReply{}, &FatalError{Status: 0, Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, t.method, t.url, bytes.NewReader(body))
	if err != nil {
		return httpReply{}, &FatalError{Status: 0, Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return httpReply{}, transportError(err, timeout)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return httpReply{}, transportError(err, timeout)
	}

	return httpReply{
		Status:     resp.StatusCode,
		RetryAfter: resp.Header.Get("Retry-After"),
		JSON:       isJSON(resp.Header.Get("Content-Type")),
		Body:       raw,
	}, nil
}

func transportError(err error, timeout time.Duration) *FatalError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &FatalError{Status: http.StatusGatewayTimeout, Reason: fmt.Sprintf("request timed out after %s", timeout), Err: err}
	case errors.Is(err, context.Canceled):
		return &FatalError{Status: 0, Reason: "request cancelled", Err: err}
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &FatalError{Status: http.StatusGatewayTimeout, Reason: fmt.Sprintf("request timed out after %s", timeout), Err: err}
		}
		return &FatalError{Status: http.StatusBadGateway, Reason: "backend unreachable", Err: err}
	}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == "application/json"
}
