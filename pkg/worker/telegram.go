package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"mproxy/pkg/message"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// KindTelegram selects the Telegram Bot API worker.
const KindTelegram = "telegram"

const (
	defaultTelegramURL = "https://api.telegram.org"
	reasonPreviewLimit = 200
)

// TelegramParams configures one Telegram channel.
type TelegramParams struct {
	URL       string  `json:"url" validate:"required,url"`
	Method    string  `json:"method" validate:"omitempty,oneof=POST GET"`
	BotID     IDValue `json:"bot_id" validate:"required"`
	ChatID    IDValue `json:"chat_id" validate:"required"`
	NoNotify  bool    `json:"no_notify"`
	ParseMode string  `json:"parse_mode" validate:"omitempty,oneof=HTML Markdown MarkdownV2"`
}

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	channel string
	target  httpTarget
	fields  telego.SendMessageParams
	log     *slog.Logger
}

// botReply is the Bot API envelope. retry_after is read from the top level and from parameters.
type botReply struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	RetryAfter  json.Number     `json:"retry_after,omitempty"`
	Parameters  *struct {
		RetryAfter json.Number `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// NewTelegramFromSpec decodes Telegram params and builds the worker.
func NewTelegramFromSpec(spec Spec) (Worker, error) {
	params := TelegramParams{URL: defaultTelegramURL, Method: http.MethodPost}
	if err := decodeParams(spec.Params, &params); err != nil {
		return nil, err
	}

	return NewTelegram(spec.Channel, params, nil, spec.Logger), nil
}

// NewTelegram builds a Telegram worker. A nil client gets the default bounded-timeout client.
func NewTelegram(channel string, params TelegramParams, client *http.Client, log *slog.Logger) *Telegram {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(strings.TrimSpace(params.URL), "/"), params.BotID.String())

	return &Telegram{
		channel: channel,
		target:  newHTTPTarget(endpoint, strings.ToUpper(strings.TrimSpace(params.Method)), client),
		fields: telego.SendMessageParams{
			ChatID:              params.ChatID.ChatID(),
			DisableNotification: params.NoNotify,
			ParseMode:           strings.TrimSpace(params.ParseMode),
		},
		log: componentLogger(log, channel, KindTelegram),
	}
}

// Operate sends the message text merged with the channel's fixed fields.
func (t *Telegram) Operate(ctx context.Context, msg message.Message) error {
	payload := t.fields
	payload.Text = msg.Text

	t.log.Debug("Perform request", "content", message.Preview(msg.Text))
	reply, err := t.target.execute(ctx, &payload)
	if err != nil {
		t.log.Warn("Channel request failed", "error", err)
		return err
	}

	var body botReply
	if reply.JSON {
		if err := json.Unmarshal(reply.Body, &body); err != nil {
			return &FatalError{Status: reply.Status, Reason: "unreadable backend response", Err: err}
		}
	}

	if body.OK {
		var sent telego.Message
		if err := json.Unmarshal(body.Result, &sent); err != nil {
			t.log.Info("Channel accepted the message", "status", reply.Status)
			return nil
		}
		t.log.Info("Channel accepted the message", "message_id", sent.MessageID)
		return nil
	}

	reason := body.Description
	if !reply.JSON {
		reason = message.Truncate(strings.TrimSpace(string(reply.Body)), reasonPreviewLimit)
	}
	t.log.Warn("Channel declined the message", "status", reply.Status, "reason", reason)

	if reply.Status == http.StatusServiceUnavailable {
		return &RetryableError{
			Status:     reply.Status,
			Reason:     reason,
			RetryAfter: body.retryAfter(reply.RetryAfter),
		}
	}

	return &FatalError{Status: reply.Status, Reason: reason}
}

// retryAfter prefers the body hint over the transport header.
func (r botReply) retryAfter(header string) string {
	if hint := r.RetryAfter.String(); hint != "" {
		return hint
	}
	if r.Parameters != nil {
		if hint := r.Parameters.RetryAfter.String(); hint != "" {
			return hint
		}
	}

	return strings.TrimSpace(header)
}

// IDValue accepts Bot API identifiers written either as JSON numbers or strings.
type IDValue string

// UnmarshalJSON implements json.Unmarshaler.
func (v *IDValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = IDValue(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*v = IDValue(n.String())

	return nil
}

func (v IDValue) String() string {
	return string(v)
}

// ChatID maps numeric ids to chat ids and anything else to a channel username.
func (v IDValue) ChatID() telego.ChatID {
	if id, err := strconv.ParseInt(string(v), 10, 64); err == nil {
		return tu.ID(id)
	}

	return tu.Username(string(v))
}
