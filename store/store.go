// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/christopherkarani/inferkit/model"
	"github.com/christopherkarani/inferkit/provider"
	"github.com/christopherkarani/inferkit/session"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a conversation doesn't exist.
	ErrNotFound = errors.New("conversation not found")
)

// =============================================================================
// STORED TYPES
// =============================================================================

// Conversation represents a persisted conversation.
type Conversation struct {
	ID        string          `json:"id"`
	Summary   string          `json:"summary"`
	Model     string          `json:"model"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []model.Message `json:"messages"`
}

// Meta contains metadata for listing conversations without loading
// full message histories.
type Meta struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // First user message truncated
}

// FromSession captures a snapshot of a live chat session.
func FromSession(s *session.ChatSession) *Conversation {
	meta := s.Meta()
	return &Conversation{
		ID:        meta.ID,
		Model:     meta.Model,
		CreatedAt: meta.CreatedAt,
		Messages:  s.History(),
	}
}

// =============================================================================
// STORE
// =============================================================================

// Store handles conversation persistence in SQLite.
type Store struct {
	db *sql.DB

	// MaxConversations limits stored conversations (0 = unlimited).
	// When over the limit, the oldest conversations are removed on save.
	MaxConversations int
}

// Open opens (creating if necessary) a conversation store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{
		db:               db,
		MaxConversations: 100,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the database schema.
func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(initMetadata)
	return err
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a conversation and returns its ID. Saving an existing ID
// replaces the stored conversation.
func (s *Store) Save(ctx context.Context, conv *Conversation) (string, error) {
	if conv.ID == "" {
		conv.ID = generateConversationID()
	}
	if conv.Summary == "" {
		conv.Summary = generateSummary(conv.Messages)
	}
	conv.UpdatedAt = time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	data, err := json.Marshal(conv.Messages)
	if err != nil {
		return "", fmt.Errorf("failed to encode messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, summary, model, created_at, updated_at, message_count, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary = excluded.summary,
			model = excluded.model,
			updated_at = excluded.updated_at,
			message_count = excluded.message_count,
			messages = excluded.messages`,
		conv.ID, conv.Summary, conv.Model,
		conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
		len(conv.Messages), string(data))
	if err != nil {
		return "", fmt.Errorf("failed to save conversation: %w", err)
	}

	if s.MaxConversations > 0 {
		s.enforceLimit(ctx)
	}

	return conv.ID, nil
}

// SaveSession captures and persists a snapshot of a live chat session.
func (s *Store) SaveSession(ctx context.Context, sess *session.ChatSession) (string, error) {
	return s.Save(ctx, FromSession(sess))
}

// generateSummary creates a summary from the first user message.
func generateSummary(messages []model.Message) string {
	for _, msg := range messages {
		if msg.Role == model.RoleUser && !msg.IsEmpty() {
			content := msg.Preview(50)
			content = strings.ReplaceAll(content, "\n", " ")
			content = strings.ReplaceAll(content, "\r", "")
			return content
		}
	}
	return "New conversation"
}

// enforceLimit removes oldest conversations if over limit.
func (s *Store) enforceLimit(ctx context.Context) {
	// Keeps the MaxConversations most recently updated rows.
	s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE id NOT IN (
			SELECT id FROM conversations ORDER BY updated_at DESC LIMIT ?
		)`, s.MaxConversations)
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a conversation by ID.
func (s *Store) Load(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, summary, model, created_at, updated_at, messages
		FROM conversations WHERE id = ?`, id)

	var conv Conversation
	var createdAt, updatedAt int64
	var messages string
	err := row.Scan(&conv.ID, &conv.Summary, &conv.Model, &createdAt, &updatedAt, &messages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return &conv, nil
}

// LoadByIndex loads a conversation by its position in the most-recent-first
// listing (0 = most recent).
func (s *Store) LoadByIndex(ctx context.Context, index int) (*Conversation, error) {
	metas, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(metas) {
		return nil, ErrNotFound
	}
	return s.Load(ctx, metas[index].ID)
}

// Restore loads a conversation and rebuilds a chat session from it,
// backed by the given provider. The system prompt, if the conversation
// has one, is reinstated.
func (s *Store) Restore(ctx context.Context, id string, p provider.Provider) (*session.ChatSession, error) {
	conv, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	sess := session.New(p, conv.Model)
	history := conv.Messages
	if len(history) > 0 && history[0].Role == model.RoleSystem {
		sess.SetSystemPrompt(history[0].Text())
		history = history[1:]
	}
	sess.InjectHistory(history)
	return sess, nil
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns metadata for all saved conversations (most recent first).
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, summary, model, created_at, updated_at, message_count, messages
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var createdAt, updatedAt int64
		var messages string
		if err := rows.Scan(&m.ID, &m.Summary, &m.Model, &createdAt, &updatedAt, &m.MessageCount, &messages); err != nil {
			continue // Skip corrupted rows
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		m.UpdatedAt = time.Unix(updatedAt, 0)
		m.Preview = previewFromJSON(messages)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// previewFromJSON extracts a first-user-message preview from encoded history.
func previewFromJSON(data string) string {
	var msgs []model.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return ""
	}
	for _, msg := range msgs {
		if msg.Role == model.RoleUser {
			return msg.Preview(80)
		}
	}
	return ""
}

// Search finds conversations whose summary or message content matches the
// query string (case-insensitive). An empty query lists everything.
func (s *Store) Search(ctx context.Context, query string) ([]Meta, error) {
	if query == "" {
		return s.List(ctx)
	}

	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	var results []Meta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Summary), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) {
			results = append(results, meta)
			continue
		}
		conv, err := s.Load(ctx, meta.ID)
		if err != nil {
			continue
		}
		for _, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Text()), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes all saved conversations.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM conversations")
	return err
}

// Count returns the number of stored conversations.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&n)
	return n, err
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders the conversation as Markdown with role labels
// and timestamps.
func (c *Conversation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# Conversation " + c.ID + "\n\n")
	sb.WriteString("Created: " + c.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range c.Messages {
		role := "**User**"
		switch msg.Role {
		case model.RoleAssistant:
			role = "**Assistant**"
		case model.RoleSystem:
			role = "**System**"
		case model.RoleTool:
			role = "**Tool**"
		}
		sb.WriteString(role + " (" + msg.Timestamp.Format("15:04") + "):\n\n")
		sb.WriteString(msg.Text())
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// ExportJSON renders the conversation as pretty-printed JSON.
func (c *Conversation) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "conv_" + hex.EncodeToString(bytes)
}
