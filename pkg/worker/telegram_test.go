package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"mproxy/pkg/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method string
	Path   string
	Body   map[string]any
}

func newBotServer(t *testing.T, status int, header http.Header, body string, contentType string) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()

	requests := make(chan capturedRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(raw, &decoded)
		requests <- capturedRequest{Method: r.Method, Path: r.URL.Path, Body: decoded}

		for key, values := range header {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	return server, requests
}

func newTestTelegram(t *testing.T, url string) *Telegram {
	t.Helper()

	return NewTelegram("alerts", TelegramParams{
		URL:       url + "/",
		BotID:     "123:abc",
		ChatID:    "-100500",
		NoNotify:  true,
		ParseMode: "HTML",
	}, nil, nil)
}

func testMessage() message.Message {
	return message.Message{Channel: "alerts", Text: "disk is full"}
}

func TestTelegramSuccess(t *testing.T) {
	server, requests := newBotServer(t, http.StatusOK, nil, `{"ok": true, "result": {"message_id": 42}}`, "application/json")

	err := newTestTelegram(t, server.URL).Operate(context.Background(), testMessage())
	require.NoError(t, err)

	req := <-requests
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/bot123:abc/sendMessage", req.Path)
	assert.Equal(t, "disk is full", req.Body["text"])
	assert.Equal(t, float64(-100500), req.Body["chat_id"])
	assert.Equal(t, true, req.Body["disable_notification"])
	assert.Equal(t, "HTML", req.Body["parse_mode"])
}

func TestTelegramRetryableBodyHintWinsOverHeader(t *testing.T) {
	server, _ := newBotServer(t,
		http.StatusServiceUnavailable,
		http.Header{"Retry-After": []string{"5"}},
		`{"ok": false, "description": "busy", "retry_after": 7}`,
		"application/json",
	)

	err := newTestTelegram(t, server.URL).Operate(context.Background(), testMessage())

	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Equal(t, http.StatusServiceUnavailable, retryable.Status)
	assert.Equal(t, "busy", retryable.Reason)
	assert.Equal(t, "7", retryable.RetryAfter)
}

func TestTelegramRetryableParametersHint(t *testing.T) {
	server, _ := newBotServer(t,
		http.StatusServiceUnavailable,
		nil,
		`{"ok": false, "description": "busy", "parameters": {"retry_after": 3}}`,
		"application/json; charset=utf-8",
	)

	err := newTestTelegram(t, server.URL).Operate(context.Background(), testMessage())

	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Equal(t, "3", retryable.RetryAfter)
}

func TestTelegramRetryableHeaderHint(t *testing.T) {
	server, _ := newBotServer(t,
		http.StatusServiceUnavailable,
		http.Header{"Retry-After": []string{"5"}},
		`{"ok": false, "description": "busy"}`,
		"application/json",
	)

	err := newTestTelegram(t, server.URL).Operate(context.Background(), testMessage())

	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Equal(t, "5", retryable.RetryAfter)

	delay, ok := retryable.Delay(time.Now())
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, delay)
}

func TestTelegramRetryableWithoutHint(t *testing.T) {
	server, _ := newBotServer(t, http.StatusServiceUnavailable, nil, "upstream overloaded", "text/plain")

	err := newTestTelegram(t, server.URL).Operate(context.Background(), testMessage())

	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Empty(t, retryable.RetryAfter)
	assert.Equal(t, "upstream overloaded", retryable.Reason)
}

func TestTelegramFatal(t *testing.T) {
	server, _ := newBotServer(t, http.StatusBadRequest, nil, `{"ok": false, "error_code": 400, "description": "bad request"}`, "application/json")

	err := newTestTelegram(t, server.URL).Operate(context.Background(), testMessage())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, http.StatusBadRequest, fatal.Status)
	assert.Equal(t, "bad request", fatal.Reason)
	assert.False(t, IsRetryable(err))
}

func TestTelegramUnparseableJSONIsFatal(t *testing.T) {
	server, _ := newBotServer(t, http.StatusOK, nil, `{"ok": tru`, "application/json")

	err := newTestTelegram(t, server.URL).Operate(context.Background(), testMessage())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, http.StatusOK, fatal.Status)
	assert.Equal(t, "unreadable backend response", fatal.Reason)
}

func TestTelegramCancelledContextIsFatal(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := newTestTelegram(t, server.URL).Operate(ctx, testMessage())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTelegramUnreachableBackendIsFatal(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := newTestTelegram(t, url).Operate(context.Background(), testMessage())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, http.StatusBadGateway, fatal.Status)
}

func TestTelegramSlowBackendTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	tg := newTestTelegram(t, server.URL)
	tg.target.timeout = 50 * time.Millisecond

	err := tg.Operate(context.Background(), testMessage())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, http.StatusGatewayTimeout, fatal.Status)
	assert.Equal(t, "request timed out after 50ms", fatal.Reason)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, IsRetryable(err))
}

func TestTelegramPlainTextReasonKeepsValidUTF8(t *testing.T) {
	server, _ := newBotServer(t, http.StatusBadGateway, nil, strings.Repeat("ж", reasonPreviewLimit), "text/plain")

	err := newTestTelegram(t, server.URL).Operate(context.Background(), testMessage())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.True(t, utf8.ValidString(fatal.Reason))
	assert.True(t, strings.HasSuffix(fatal.Reason, "..."))
	assert.LessOrEqual(t, len(fatal.Reason), reasonPreviewLimit+3)
}

func TestNewTelegramFromSpec(t *testing.T) {
	t.Run("numeric ids and defaults", func(t *testing.T) {
		w, err := NewTelegramFromSpec(Spec{
			Channel: "alerts",
			Params:  json.RawMessage(`{"bot_id": 12345, "chat_id": 678}`),
		})
		require.NoError(t, err)

		tg := w.(*Telegram)
		assert.Equal(t, "https://api.telegram.org/bot12345/sendMessage", tg.target.url)
		assert.Equal(t, http.MethodPost, tg.target.method)
		assert.Equal(t, int64(678), tg.fields.ChatID.ID)
	})

	t.Run("username chat id", func(t *testing.T) {
		w, err := NewTelegramFromSpec(Spec{
			Channel: "news",
			Params:  json.RawMessage(`{"bot_id": "1:x", "chat_id": "@news"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, "@news", w.(*Telegram).fields.ChatID.Username)
	})

	t.Run("missing bot id", func(t *testing.T) {
		_, err := NewTelegramFromSpec(Spec{Channel: "alerts", Params: json.RawMessage(`{"chat_id": 1}`)})
		require.ErrorIs(t, err, ErrMissingParam)
		assert.Contains(t, err.Error(), "bot_id")
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := NewTelegramFromSpec(Spec{Channel: "alerts", Params: json.RawMessage(`{"bot_id": "1", "chat_id": 1, "token": "x"}`)})
		require.Error(t, err)
	})

	t.Run("bad parse mode", func(t *testing.T) {
		_, err := NewTelegramFromSpec(Spec{Channel: "alerts", Params: json.RawMessage(`{"bot_id": "1", "chat_id": 1, "parse_mode": "rtf"}`)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse_mode")
	})
}
