package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mproxy/pkg/config"
	"mproxy/pkg/dispatch"
	"mproxy/pkg/message"
)

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8080
	defaultShutdownTimeout = 5 * time.Second
	maxBodyBytes           = 1 << 20
)

// Sender dispatches one validated message.
type Sender interface {
	Send(ctx context.Context, msg message.Message) dispatch.Result
}

// RequestObserver records gateway responses per route.
type RequestObserver interface {
	ObserveRequest(route string, status int)
}

type Service struct {
	cfg      config.ServerConfig
	log      *slog.Logger
	sender   Sender
	observer RequestObserver
	metrics  http.Handler
	started  time.Time
}

type Option func(*Service)

// WithMetrics serves handler on /metrics and reports each response to observer.
func WithMetrics(observer RequestObserver, handler http.Handler) Option {
	return func(s *Service) {
		s.observer = observer
		s.metrics = handler
	}
}

type sendRequest struct {
	Text string `json:"text"`
}

type pingResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func NewService(cfg config.ServerConfig, sender Sender, log *slog.Logger, opts ...Option) (*Service, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:     cfg,
		log:     log.With("component", "gateway.service"),
		sender:  sender,
		started: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Service) Addr() string {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHost
	}

	port := s.cfg.Port
	if port <= 0 {
		port = defaultPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/send/{channel}", s.route("send", s.handleSend))
	mux.Handle("GET /api/ping", s.route("ping", s.handlePing))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return Chain(RequestID(), Logging(s.log), Recovery(s.log))(mux)
}

func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Gateway listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("start gateway server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := time.Duration(s.cfg.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("Gateway shutting down", "timeout", timeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown gateway server: %w", err)
	}

	return nil
}

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) int {
	channel := r.PathValue("channel")
	if !message.ValidChannel(channel) {
		return s.writeJSON(w, http.StatusNotFound, errorBody(channel, "not_found", "no route for this channel name"))
	}

	var body sendRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&body); err != nil {
		return s.writeJSON(w, http.StatusBadRequest, errorBody(channel, "invalid_request", "request body must be a JSON object with a text field"))
	}

	msg, err := message.New(channel, body.Text)
	if err != nil {
		return s.writeJSON(w, http.StatusBadRequest, errorBody(channel, "invalid_request", err.Error()))
	}

	s.log.Debug("Received message", "channel", msg.Channel, "content", message.Preview(msg.Text))
	result := s.sender.Send(r.Context(), msg)
	if result.RetryAfter != "" {
		w.Header().Set("Retry-After", result.RetryAfter)
	}

	return s.writeJSON(w, result.Status, result.Body)
}

func (s *Service) handlePing(w http.ResponseWriter, _ *http.Request) int {
	return s.writeJSON(w, http.StatusOK, pingResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

// route adapts a status-returning handler and reports the status to the observer.
func (s *Service) route(name string, h func(http.ResponseWriter, *http.Request) int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := h(w, r)
		if s.observer != nil {
			s.observer.ObserveRequest(name, status)
		}
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, payload any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}

	return status
}

func errorBody(channel string, code string, msg string) dispatch.Response {
	return dispatch.Response{
		Status:  dispatch.StatusFailed,
		Channel: channel,
		Error:   &dispatch.ErrorDetail{Code: code, Message: msg},
	}
}
