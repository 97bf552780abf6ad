package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessageChat(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"chat","message":"hello","model_name":"llama3","generation_style":"creative","settings":{"temperature":0.2,"max_tokens":64}}`))
	require.NoError(t, err)

	chat, ok := msg.(*ChatRequest)
	require.True(t, ok, "expected *ChatRequest, got %T", msg)
	assert.Equal(t, "hello", chat.Message)
	assert.Equal(t, "llama3", chat.ModelName)
	assert.Equal(t, "creative", chat.GenerationStyle)
	require.NotNil(t, chat.Settings)
	assert.InDelta(t, 0.2, *chat.Settings.Temperature, 1e-9)
	assert.Equal(t, 64, *chat.Settings.MaxTokens)
}

func TestParseClientMessageInterrupt(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"interrupt"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeInterrupt, msg.MessageType())
}

func TestParseClientMessageErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
		want error
	}{
		{"not json", `hello`, ErrInvalidJSON},
		{"array", `[1,2]`, ErrInvalidJSON},
		{"missing type", `{"message":"hi"}`, ErrMissingField},
		{"unknown type", `{"type":"dance"}`, ErrUnknownType},
		{"empty chat", `{"type":"chat","message":"   "}`, ErrMissingField},
		{"wrong field type", `{"type":"chat","message":42}`, ErrInvalidJSON},
		{"temperature too high", `{"type":"chat","message":"hi","settings":{"temperature":3}}`, ErrInvalidField},
		{"zero max tokens", `{"type":"chat","message":"hi","settings":{"max_tokens":0}}`, ErrInvalidField},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClientMessage([]byte(tc.data))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestEventEncoding(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := json.Marshal(AIResponse("hi there", at))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeAIResponse, decoded["type"])
	assert.Equal(t, "hi there", decoded["message"])
	assert.Equal(t, "2025-01-02T03:04:05Z", decoded["timestamp"])
	_, hasCode := decoded["code"]
	assert.False(t, hasCode)

	errEvent := Error(ErrorCodeInvalidMessage, "bad")
	assert.Equal(t, TypeError, errEvent.Type)
	assert.Equal(t, ErrorCodeInvalidMessage, errEvent.Code)
	assert.NotEmpty(t, errEvent.Timestamp)
}
