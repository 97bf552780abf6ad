package domain

import (
	"time"

	"github.com/google/uuid"
)

// Turn is one message of a conversation. Turns are immutable once created.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:        "turn_" + uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Conversation is the stored summary of one session's transcript.
type Conversation struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
	Turns     []Turn    `json:"turns,omitempty"`
}

// TitleMaxChars bounds titles derived from the first user message.
const TitleMaxChars = 30

// TitleFromMessage derives a conversation title from its first user message.
func TitleFromMessage(message string) string {
	runes := []rune(message)
	if len(runes) > TitleMaxChars {
		return string(runes[:TitleMaxChars]) + "..."
	}
	return message
}
