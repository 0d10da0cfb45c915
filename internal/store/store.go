// ABOUTME: Store interface and errors for assist-gateway persistence
// ABOUTME: Covers conversations, messages, and the append-only stream record log

package store

import (
	"context"
	"errors"

	"github.com/medora/assist-gateway/internal/chat"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when a message with the same ID already
// exists. Message IDs are client-generated and globally unique.
var ErrDuplicateMessage = errors.New("message already exists")

// Store defines the persistence operations the streaming engine consumes.
// Schema and storage engine are implementation details behind this interface.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *chat.Conversation) error
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
	ListConversations(ctx context.Context, ownerID string, includeArchived bool) ([]*chat.Conversation, error)
	SetConversationTitle(ctx context.Context, id, title string) error
	SetConversationArchived(ctx context.Context, id string, archived bool) error
	DeleteConversation(ctx context.Context, id string) error

	// Messages
	CreateMessage(ctx context.Context, msg *chat.Message) error
	FindMessagesByConversation(ctx context.Context, conversationID string) ([]*chat.Message, error)

	// Stream records (append-only, ordered by creation)
	AppendStreamRecord(ctx context.Context, conversationID, streamID string) error
	ListStreamIDs(ctx context.Context, conversationID string) ([]string, error)

	Close() error
}
