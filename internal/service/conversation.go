package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xiaot623/gochat/internal/adapter/llm"
	"github.com/xiaot623/gochat/internal/domain"
)

// Version is reported by the status endpoints.
const Version = "0.1.0"

// maxTitleChars bounds user supplied conversation titles.
const maxTitleChars = 200

// ErrInvalidTitle is returned when a conversation title is empty or too long.
var ErrInvalidTitle = errors.New("invalid conversation title")

// ListConversations returns stored conversations, most recently updated first.
func (s *Service) ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	return s.store.ListConversations(ctx, limit)
}

// SearchConversations returns conversations whose title or turns contain query.
func (s *Service) SearchConversations(ctx context.Context, query string, limit int) ([]domain.Conversation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Conversation{}, nil
	}
	return s.store.SearchConversations(ctx, query, limit)
}

// GetConversation returns a stored conversation with its full transcript, or nil.
func (s *Service) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	return s.store.GetConversation(ctx, sessionID)
}

// RenameConversation sets a stored conversation's title. It reports false if the
// conversation does not exist.
func (s *Service) RenameConversation(ctx context.Context, sessionID, title string) (bool, error) {
	title = strings.TrimSpace(title)
	if title == "" || len([]rune(title)) > maxTitleChars {
		return false, fmt.Errorf("%w: must be 1-%d characters", ErrInvalidTitle, maxTitleChars)
	}
	return s.store.UpdateConversationTitle(ctx, sessionID, title)
}

// DeleteConversation removes a stored conversation and clears the in-memory
// transcript of its live session.
func (s *Service) DeleteConversation(ctx context.Context, sessionID string) (bool, error) {
	deleted, err := s.store.DeleteConversation(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess, ok := s.registry.Lookup(sessionID); ok {
		sess.ClearRecent()
	}
	if deleted {
		log.Printf("Conversation deleted: %s", sessionID)
	}
	return deleted, nil
}

// SessionView is the live state of a registered session.
type SessionView struct {
	SessionID       string                 `json:"session_id"`
	Connected       bool                   `json:"connected"`
	GenerationState domain.GenerationState `json:"generation_state"`
	Turns           []domain.Turn          `json:"turns"`
	Count           int                    `json:"count"`
}

// SessionHistory returns the in-memory recent turns and generation state of a live session.
func (s *Service) SessionHistory(sessionID string) (*SessionView, bool) {
	sess, ok := s.registry.Lookup(sessionID)
	if !ok {
		return nil, false
	}
	turns := sess.RecentTurns()
	return &SessionView{
		SessionID:       sessionID,
		Connected:       sess.Connected(),
		GenerationState: sess.State(),
		Turns:           turns,
		Count:           len(turns),
	}, true
}

// ClearSessionHistory drops the in-memory recent turns of a live session.
func (s *Service) ClearSessionHistory(sessionID string) bool {
	sess, ok := s.registry.Lookup(sessionID)
	if !ok {
		return false
	}
	sess.ClearRecent()
	return true
}

// ListModels returns the models installed on the backend, or the configured default
// model when the backend cannot be queried.
func (s *Service) ListModels(ctx context.Context) []llm.Model {
	models, err := s.llmClient.ListModels(ctx)
	if err != nil {
		log.Printf("WARN: failed to list models: %v", err)
	}
	if err != nil || len(models) == 0 {
		return []llm.Model{{
			Name:        s.config.DefaultModel,
			ModelID:     s.config.DefaultModel,
			Description: "Default model",
		}}
	}
	return models
}

// StatusReport describes the running server.
type StatusReport struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Sessions     int    `json:"sessions"`
	Connections  int    `json:"connections"`
	Generating   int    `json:"generating"`
	DefaultModel string `json:"default_model"`
	Mode         string `json:"mode"`
	Ollama       string `json:"ollama"`
	Timestamp    string `json:"timestamp"`
}

// Status reports registry occupancy and whether the model backend is reachable.
func (s *Service) Status(ctx context.Context) StatusReport {
	st := s.registry.Stats()
	mode := "ollama"
	if s.config.Mode == llm.ModeMock {
		mode = "mock"
	}

	backend := "connected"
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.llmClient.Ping(pingCtx); err != nil {
		backend = "unreachable"
	}

	return StatusReport{
		Status:       "running",
		Version:      Version,
		Sessions:     st.Sessions,
		Connections:  st.Connected,
		Generating:   st.Generating,
		DefaultModel: s.config.DefaultModel,
		Mode:         mode,
		Ollama:       backend,
		Timestamp:    time.Now().Format(time.RFC3339Nano),
	}
}
