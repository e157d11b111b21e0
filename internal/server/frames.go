package server

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/models"
)

// Frame types on the wire.
const (
	FrameAuth         = "auth"
	FrameMessage      = "message"
	FrameTyping       = "typing"
	FrameMarkSeen     = "mark_seen"
	FrameConnected    = "connected"
	FrameMessageSent  = "message_sent"
	FrameNotification = "notification"
	FrameTypeError    = "error"
)

// Frame is one decoded client frame.
type Frame interface {
	frameType() string
}

// AuthFrame carries the bearer token. An empty token is an auth failure,
// not a protocol error, so it is not validated here.
type AuthFrame struct {
	Token string `json:"token"`
}

// MessageFrame sends content to another user. There is no sender field;
// the sender is always the authenticated identity.
type MessageFrame struct {
	ToID    models.Identity `json:"toId" validate:"required"`
	Content string          `json:"content" validate:"required"`
}

// TypingFrame signals typing state to another user.
type TypingFrame struct {
	ToID     models.Identity `json:"toId" validate:"required"`
	IsTyping *bool           `json:"isTyping" validate:"required"`
}

// MarkSeenFrame marks a received message as seen.
type MarkSeenFrame struct {
	MessageID string `json:"messageId" validate:"required"`
}

func (*AuthFrame) frameType() string     { return FrameAuth }
func (*MessageFrame) frameType() string  { return FrameMessage }
func (*TypingFrame) frameType() string   { return FrameTyping }
func (*MarkSeenFrame) frameType() string { return FrameMarkSeen }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeFrame parses and validates a raw client frame. An auth frame whose
// token cannot be decoded is an auth error; every other failure is a
// protocol error.
func DecodeFrame(raw []byte) (Frame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, protocolError("malformed JSON")
	}

	var frame Frame
	switch envelope.Type {
	case FrameAuth:
		frame = &AuthFrame{}
	case FrameMessage:
		frame = &MessageFrame{}
	case FrameTyping:
		frame = &TypingFrame{}
	case FrameMarkSeen:
		frame = &MarkSeenFrame{}
	case "":
		return nil, protocolError("missing frame type")
	default:
		return nil, protocolError("unknown frame type %q", envelope.Type)
	}

	if err := json.Unmarshal(raw, frame); err != nil {
		if envelope.Type == FrameAuth {
			return nil, authError("authentication failed", err)
		}
		return nil, protocolError("malformed %s frame", envelope.Type)
	}
	if envelope.Type == FrameAuth {
		return frame, nil
	}
	if err := validate.Struct(frame); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, protocolError("%s frame: %s is required", envelope.Type, verrs[0].Field())
		}
		return nil, protocolError("invalid %s frame", envelope.Type)
	}
	return frame, nil
}

type connectedFrame struct {
	Type    string          `json:"type"`
	UserID  models.Identity `json:"userId"`
	Message string          `json:"message"`
}

type messageFrame struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message"`
}

type typingFrame struct {
	Type     string          `json:"type"`
	FromID   models.Identity `json:"fromId"`
	IsTyping bool            `json:"isTyping"`
}

type notificationFrame struct {
	Type         string              `json:"type"`
	Notification models.Notification `json:"notification"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func encodeFrame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode outbound frame")
		return nil
	}
	return data
}

func newConnectedFrame(id models.Identity) []byte {
	return encodeFrame(connectedFrame{Type: FrameConnected, UserID: id, Message: "Authenticated successfully"})
}

func newMessageFrame(frameType string, msg *models.Message) []byte {
	return encodeFrame(messageFrame{Type: frameType, Message: msg})
}

func newTypingFrame(from models.Identity, isTyping bool) []byte {
	return encodeFrame(typingFrame{Type: FrameTyping, FromID: from, IsTyping: isTyping})
}

func newNotificationFrame(n models.Notification) []byte {
	return encodeFrame(notificationFrame{Type: FrameNotification, Notification: n})
}

func newErrorFrame(msg string) []byte {
	return encodeFrame(errorFrame{Type: FrameTypeError, Message: msg})
}
