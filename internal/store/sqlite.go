// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/stream persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/medora/assist-gateway/internal/chat"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			archived INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner
			ON conversations(owner_id, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			parts TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS streams (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_streams_conversation_created
			ON streams(conversation_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CreateConversation inserts a new conversation row.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *chat.Conversation) error {
	query := `
		INSERT INTO conversations (id, owner_id, title, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.OwnerID,
		conv.Title,
		boolToInt(conv.Archived),
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		conv.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("conversation created", "conversation_id", conv.ID)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	query := `
		SELECT id, owner_id, title, archived, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	conv := &chat.Conversation{}
	var archived int
	var createdStr, updatedStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.OwnerID, &conv.Title, &archived, &createdStr, &updatedStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.Archived = archived != 0
	if conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return conv, nil
}

// ListConversations returns an owner's conversations, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string, includeArchived bool) ([]*chat.Conversation, error) {
	query := `
		SELECT id, owner_id, title, archived, created_at, updated_at
		FROM conversations
		WHERE owner_id = ?
	`
	if !includeArchived {
		query += " AND archived = 0"
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*chat.Conversation
	for rows.Next() {
		conv := &chat.Conversation{}
		var archived int
		var createdStr, updatedStr string
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &archived, &createdStr, &updatedStr); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conv.Archived = archived != 0
		if conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// SetConversationTitle updates the conversation title.
func (s *SQLiteStore) SetConversationTitle(ctx context.Context, id, title string) error {
	return s.updateConversation(ctx, id, "title = ?", title)
}

// SetConversationArchived flips the archival flag.
func (s *SQLiteStore) SetConversationArchived(ctx context.Context, id string, archived bool) error {
	return s.updateConversation(ctx, id, "archived = ?", boolToInt(archived))
}

// updateConversation applies a single-column update and bumps updated_at.
func (s *SQLiteStore) updateConversation(ctx context.Context, id, setClause string, value any) error {
	query := "UPDATE conversations SET " + setClause + ", updated_at = ? WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, value, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation and, via cascade, its messages
// and stream records.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage persists a message with its parts serialized as JSON.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *chat.Message) error {
	parts, err := chat.EncodeParts(msg.Parts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, parts, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		string(msg.Role),
		string(parts),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("message saved",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"role", msg.Role,
		"parts", len(msg.Parts),
	)
	return nil
}

// FindMessagesByConversation returns a conversation's messages ordered by
// creation time ascending.
func (s *SQLiteStore) FindMessagesByConversation(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	query := `
		SELECT id, conversation_id, role, parts, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		msg := &chat.Message{}
		var role, partsJSON, createdStr string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &partsJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = chat.Role(role)
		if msg.Parts, err = chat.DecodeParts([]byte(partsJSON)); err != nil {
			return nil, err
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AppendStreamRecord records that a stream id belongs to a conversation.
// Appending the same stream id twice is a no-op.
func (s *SQLiteStore) AppendStreamRecord(ctx context.Context, conversationID, streamID string) error {
	query := `
		INSERT OR IGNORE INTO streams (id, conversation_id, created_at)
		VALUES (?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		streamID,
		conversationID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("appending stream record: %w", err)
	}

	s.logger.Debug("stream record appended",
		"conversation_id", conversationID,
		"stream_id", streamID,
	)
	return nil
}

// ListStreamIDs returns all stream ids for a conversation, oldest first.
func (s *SQLiteStore) ListStreamIDs(ctx context.Context, conversationID string) ([]string, error) {
	query := `
		SELECT id FROM streams
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying stream records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stream record: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError reports whether the error is a SQLite unique
// constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
