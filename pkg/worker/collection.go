package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"mproxy/pkg/message"
)

// ChannelSpec is the configuration of one channel as seen by the collection builder.
type ChannelSpec struct {
	Worker    string
	Params    json.RawMessage
	RateLimit *RateLimit
}

type binding struct {
	kind   string
	worker Worker
}

// Collection maps channel names to their workers.
//
// It is built once by Build and never mutated afterwards, so concurrent Resolve calls need no locking.
type Collection struct {
	bindings map[string]binding
}

// Build constructs one worker per channel. The first failure aborts with a *ConfigError.
func Build(channels map[string]ChannelSpec, registry Registry, log *slog.Logger) (*Collection, error) {
	if len(channels) == 0 {
		return nil, &ConfigError{Err: errors.New("no channels configured")}
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if log == nil {
		log = slog.Default()
	}

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	bindings := make(map[string]binding, len(channels))
	for _, name := range names {
		spec := channels[name]
		kind := normalizeKind(spec.Worker)

		if !message.ValidChannel(name) {
			return nil, &ConfigError{Channel: name, Worker: kind, Err: errors.New("channel name must contain only word characters")}
		}
		if kind == "" {
			return nil, &ConfigError{Channel: name, Err: fmt.Errorf("%w: worker", ErrMissingParam)}
		}

		factory, ok := registry.Lookup(kind)
		if !ok {
			return nil, &ConfigError{Channel: name, Worker: kind, Err: fmt.Errorf("unknown worker type (known: %v)", registry.Kinds())}
		}

		w, err := factory(Spec{Channel: name, Params: spec.Params, Logger: log})
		if err != nil {
			return nil, &ConfigError{Channel: name, Worker: kind, Err: err}
		}

		if spec.RateLimit != nil {
			if err := message.Validator().Struct(spec.RateLimit); err != nil {
				return nil, &ConfigError{Channel: name, Worker: kind, Err: fmt.Errorf("invalid rate_limit: %w", err)}
			}
			w = NewLimited(w, *spec.RateLimit)
		}

		bindings[name] = binding{kind: kind, worker: w}
		log.Debug("Channel configured", "channel", name, "worker", kind, "rate_limited", spec.RateLimit != nil)
	}

	return &Collection{bindings: bindings}, nil
}

// NewCollection binds prebuilt workers, mainly for tests and embedding.
func NewCollection(workers map[string]Worker) *Collection {
	bindings := make(map[string]binding, len(workers))
	for name, w := range workers {
		bindings[name] = binding{kind: "custom", worker: w}
	}

	return &Collection{bindings: bindings}
}

// Resolve returns the worker bound to channel or an error wrapping ErrUnknownChannel.
func (c *Collection) Resolve(channel string) (Worker, error) {
	b, ok := c.bindings[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	return b.worker, nil
}

func (c *Collection) Kind(channel string) (string, bool) {
	b, ok := c.bindings[channel]
	return b.kind, ok
}

// Channels returns the configured channel names in sorted order.
func (c *Collection) Channels() []string {
	names := make([]string, 0, len(c.bindings))
	for name := range c.bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (c *Collection) Len() int {
	return len(c.bindings)
}
