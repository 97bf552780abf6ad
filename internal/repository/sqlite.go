package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gochat/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			turn_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at)`,
		`CREATE TABLE IF NOT EXISTS turns (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			turn_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES conversations(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendTurns appends turns to a session's transcript in one transaction,
// creating the conversation record on first write.
func (s *SQLiteStore) AppendTurns(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (session_id, title, created_at, updated_at, turn_count) VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, titleFor(turns), now, now)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, t := range turns {
		if !t.Role.Valid() {
			return fmt.Errorf("invalid role %q", t.Role)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO turns (turn_id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			t.ID, sessionID, string(t.Role), t.Content, t.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ?, turn_count = turn_count + ? WHERE session_id = ?`,
		now, len(turns), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	return tx.Commit()
}

func titleFor(turns []domain.Turn) string {
	for _, t := range turns {
		if t.Role == domain.RoleUser {
			return domain.TitleFromMessage(t.Content)
		}
	}
	return domain.TitleFromMessage(turns[0].Content)
}

// LoadRecent returns up to limit of the most recent turns, oldest first.
func (s *SQLiteStore) LoadRecent(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryTurns(ctx,
		`SELECT turn_id, role, content, created_at FROM (
			SELECT seq, turn_id, role, content, created_at FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		sessionID, limit)
}

// GetTurns returns a session's full transcript, oldest first.
func (s *SQLiteStore) GetTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	return s.queryTurns(ctx,
		`SELECT turn_id, role, content, created_at FROM turns WHERE session_id = ? ORDER BY seq ASC`,
		sessionID)
}

func (s *SQLiteStore) queryTurns(ctx context.Context, query string, args ...interface{}) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var role string
		if err := rows.Scan(&t.ID, &role, &t.Content, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Role = domain.Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// GetConversation retrieves a conversation with its turns. It returns nil if none exists.
func (s *SQLiteStore) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, title, created_at, updated_at, turn_count FROM conversations WHERE session_id = ?`,
		sessionID).Scan(&conv.SessionID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &conv.TurnCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	turns, err := s.GetTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	conv.Turns = turns
	return &conv, nil
}

// ListConversations lists conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	query := `SELECT session_id, title, created_at, updated_at, turn_count FROM conversations ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryConversations(ctx, query)
}

// SearchConversations finds conversations whose title or any turn contains query,
// case-insensitively, most recently updated first.
func (s *SQLiteStore) SearchConversations(ctx context.Context, query string, limit int) ([]domain.Conversation, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	q := `SELECT c.session_id, c.title, c.created_at, c.updated_at, c.turn_count FROM conversations c
		WHERE lower(c.title) LIKE ? ESCAPE '\'
		   OR EXISTS (SELECT 1 FROM turns t WHERE t.session_id = c.session_id AND lower(t.content) LIKE ? ESCAPE '\')
		ORDER BY c.updated_at DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryConversations(ctx, q, pattern, pattern)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLiteStore) queryConversations(ctx context.Context, query string, args ...interface{}) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []domain.Conversation{}
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(&conv.SessionID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &conv.TurnCount); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// UpdateConversationTitle renames a conversation. It reports whether the conversation exists.
func (s *SQLiteStore) UpdateConversationTitle(ctx context.Context, sessionID, title string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE session_id = ?`,
		title, time.Now(), sessionID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteConversation removes a conversation and its turns. It reports whether the conversation existed.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}
