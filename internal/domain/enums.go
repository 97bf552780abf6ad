// Package domain defines the core domain models for the chat server.
package domain

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// GenerationState represents the state of a session's generation cycle.
type GenerationState string

const (
	GenerationIdle        GenerationState = "IDLE"
	GenerationRequested   GenerationState = "REQUESTED"
	GenerationRunning     GenerationState = "RUNNING"
	GenerationCompleted   GenerationState = "COMPLETED"
	GenerationInterrupted GenerationState = "INTERRUPTED"
	GenerationFailed      GenerationState = "FAILED"
)

// Terminal reports whether s ends a generation cycle.
func (s GenerationState) Terminal() bool {
	switch s {
	case GenerationCompleted, GenerationInterrupted, GenerationFailed:
		return true
	}
	return false
}

// Active reports whether s holds the session's single generation slot.
func (s GenerationState) Active() bool {
	return s == GenerationRequested || s == GenerationRunning
}

// ChannelState represents the state of a physical client connection.
type ChannelState string

const (
	ChannelOpen    ChannelState = "OPEN"
	ChannelClosing ChannelState = "CLOSING"
	ChannelClosed  ChannelState = "CLOSED"
)
