// Package protocol defines the WebSocket message protocol between browser clients and the server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message types from client to server
const (
	TypeChat      = "chat"
	TypeInterrupt = "interrupt"
)

// Message types from server to client
const (
	TypeGenerationStart       = "generation_start"
	TypeAIResponse            = "ai_response"
	TypeGenerationInterrupted = "generation_interrupted"
	TypeError                 = "error"
	TypeSystem                = "system"
)

// Error codes
const (
	ErrorCodeInvalidMessage       = "invalid_message"
	ErrorCodeRateLimited          = "rate_limited"
	ErrorCodePolicyBlocked        = "policy_blocked"
	ErrorCodeGenerationInProgress = "generation_in_progress"
	ErrorCodeInferenceTimeout     = "inference_timeout"
	ErrorCodeInferenceUnreachable = "inference_unreachable"
	ErrorCodeModelError           = "model_error"
	ErrorCodePersistenceFailed    = "persistence_failed"
	ErrorCodeInternalError        = "internal_error"
)

// CloseCodeSuperseded is the WebSocket close code sent to a connection replaced by a
// newer one for the same session. Clients should not reconnect on it.
const CloseCodeSuperseded = 4001

var (
	// ErrInvalidJSON is returned when a frame is not a JSON object.
	ErrInvalidJSON = errors.New("invalid JSON message")
	// ErrUnknownType is returned when a frame carries an unrecognised type.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField is returned when a field holds an unusable value.
	ErrInvalidField = errors.New("invalid field value")
)

// MaxTemperature bounds the temperature a client may request.
const MaxTemperature = 2.0

// ClientMessage is a parsed inbound message. It is one of *ChatRequest or *InterruptRequest.
type ClientMessage interface {
	MessageType() string
}

// Settings carries optional per-request overrides of the generation defaults.
type Settings struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

func (s *Settings) validate() error {
	if s == nil {
		return nil
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > MaxTemperature) {
		return fmt.Errorf("%w: temperature must be between 0 and %.1f", ErrInvalidField, MaxTemperature)
	}
	if s.MaxTokens != nil && *s.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidField)
	}
	return nil
}

// ChatRequest is sent by the client to submit a prompt.
type ChatRequest struct {
	Type            string    `json:"type"`
	Message         string    `json:"message"`
	ModelName       string    `json:"model_name,omitempty"`
	GenerationStyle string    `json:"generation_style,omitempty"`
	Settings        *Settings `json:"settings,omitempty"`
}

// MessageType implements ClientMessage.
func (*ChatRequest) MessageType() string { return TypeChat }

// InterruptRequest is sent by the client to cancel the in-flight generation.
type InterruptRequest struct {
	Type string `json:"type"`
}

// MessageType implements ClientMessage.
func (*InterruptRequest) MessageType() string { return TypeInterrupt }

// ParseClientMessage decodes one inbound frame into a typed message.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, ErrInvalidJSON
	}

	switch base.Type {
	case TypeChat:
		var msg ChatRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: invalid chat message", ErrInvalidJSON)
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, fmt.Errorf("%w: message", ErrMissingField)
		}
		if err := msg.Settings.validate(); err != nil {
			return nil, err
		}
		return &msg, nil
	case TypeInterrupt:
		return &InterruptRequest{Type: TypeInterrupt}, nil
	case "":
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, base.Type)
	}
}

// Event is a server to client message.
type Event struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

func newEvent(eventType, message string) *Event {
	return &Event{
		Type:      eventType,
		Message:   message,
		Timestamp: Timestamp(time.Now()),
	}
}

// Timestamp formats t the way every outbound event carries it.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// GenerationStart announces that a generation has begun.
func GenerationStart() *Event {
	return newEvent(TypeGenerationStart, "")
}

// AIResponse delivers the assistant's reply.
func AIResponse(message string, at time.Time) *Event {
	ev := newEvent(TypeAIResponse, message)
	ev.Timestamp = Timestamp(at)
	return ev
}

// GenerationInterrupted confirms that a generation was cancelled.
func GenerationInterrupted() *Event {
	return newEvent(TypeGenerationInterrupted, "Conversation interrupted")
}

// Error reports a failure to the client.
func Error(code, message string) *Event {
	ev := newEvent(TypeError, message)
	ev.Code = code
	return ev
}

// System carries status notices and heartbeats.
func System(sessionID, message string) *Event {
	ev := newEvent(TypeSystem, message)
	ev.SessionID = sessionID
	return ev
}
