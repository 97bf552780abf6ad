// Package store defines the conversation storage interface and its SQLite implementation.
package store

import (
	"context"

	"github.com/xiaot623/gochat/internal/domain"
)

// Store defines the interface for conversation persistence.
type Store interface {
	// Turn operations
	AppendTurns(ctx context.Context, sessionID string, turns ...domain.Turn) error
	LoadRecent(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	GetTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)

	// Conversation operations
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error)
	SearchConversations(ctx context.Context, query string, limit int) ([]domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, sessionID, title string) (bool, error)
	DeleteConversation(ctx context.Context, sessionID string) (bool, error)

	// Lifecycle
	Close() error
}
