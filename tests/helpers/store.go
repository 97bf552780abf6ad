package helpers

import (
	"context"
	"testing"

	"github.com/xiaot623/gochat/internal/domain"
	"github.com/xiaot623/gochat/internal/repository"
)

// NewTestSQLiteStore opens an in-memory conversation store closed at test cleanup.
func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedExchange stores one user/assistant exchange for sessionID.
func SeedExchange(t *testing.T, s store.Store, sessionID, user, assistant string) {
	t.Helper()

	err := s.AppendTurns(context.Background(), sessionID,
		domain.NewTurn(domain.RoleUser, user),
		domain.NewTurn(domain.RoleAssistant, assistant),
	)
	if err != nil {
		t.Fatalf("failed to seed exchange: %v", err)
	}
}
