package message

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// channelPattern matches the channel segment accepted by the send route.
var channelPattern = regexp.MustCompile(`^\w+$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Message is one text payload addressed to a logical channel.
type Message struct {
	Channel string `json:"channel" validate:"required,channel"`
	Text    string `json:"text" validate:"required,notblank"`
}

// New trims the channel name and returns a validated message. Text is kept verbatim.
func New(channel string, text string) (Message, error) {
	msg := Message{
		Channel: strings.TrimSpace(channel),
		Text:    text,
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (m Message) Validate() error {
	err := Validator().Struct(m)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	field := fieldErrs[0]
	switch field.Tag() {
	case "required", "notblank":
		return fmt.Errorf("%s is required", field.Field())
	case "channel":
		return fmt.Errorf("channel %q must contain only word characters", field.Value())
	default:
		return fmt.Errorf("%s is invalid (%s)", field.Field(), field.Tag())
	}
}

func (m Message) String() string {
	return m.Channel + ": " + Preview(m.Text)
}

// ValidChannel reports whether name is usable as a channel identifier.
func ValidChannel(name string) bool {
	return channelPattern.MatchString(name)
}

// Validator returns the shared validator with the channel rule registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
		_ = validate.RegisterValidation("channel", func(fl validator.FieldLevel) bool {
			return ValidChannel(fl.Field().String())
		})
		_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})

	return validate
}

// jsonFieldName reports fields by their JSON name so errors match the wire format.
func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}

	return name
}
