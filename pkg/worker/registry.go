package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"mproxy/pkg/message"

	"github.com/go-playground/validator/v10"
)

// Spec carries everything a Factory needs to build the worker of one channel.
type Spec struct {
	Channel string
	Params  json.RawMessage
	Logger  *slog.Logger
}

// Factory builds a worker from its channel spec.
type Factory func(spec Spec) (Worker, error)

// Registry maps worker type names to factories.
type Registry map[string]Factory

// DefaultRegistry holds the built-in worker types.
func DefaultRegistry() Registry {
	return Registry{
		KindTelegram: NewTelegramFromSpec,
		KindStub:     NewStubFromSpec,
	}
}

// Lookup resolves a worker type name case-insensitively.
func (r Registry) Lookup(kind string) (Factory, bool) {
	factory, ok := r[normalizeKind(kind)]
	return factory, ok
}

// Kinds returns the registered type names in sorted order.
func (r Registry) Kinds() []string {
	kinds := make([]string, 0, len(r))
	for kind := range r {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	return kinds
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

// decodeParams strictly decodes raw params into dst, then validates its struct tags.
//
// dst must already hold the defaults; absent params keep them.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(dst); err != nil {
			return fmt.Errorf("decode params: %w", err)
		}
	}

	err := message.Validator().Struct(dst)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("invalid params: %w", err)
	}

	field := fieldErrs[0]
	if field.Tag() == "required" {
		return fmt.Errorf("%w: %s", ErrMissingParam, field.Field())
	}
	if field.Param() != "" {
		return fmt.Errorf("invalid parameter %s: must satisfy %s=%s", field.Field(), field.Tag(), field.Param())
	}

	return fmt.Errorf("invalid parameter %s: must satisfy %s", field.Field(), field.Tag())
}

// ErrMissingParam is wrapped into ConfigError when a required worker parameter is absent.
var ErrMissingParam = errors.New("missing required parameter")
