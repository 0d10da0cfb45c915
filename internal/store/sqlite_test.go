// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers conversation lifecycle, message ordering, and stream record idempotence

package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medora/assist-gateway/internal/chat"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeConversation(id string) *chat.Conversation {
	now := time.Now()
	return &chat.Conversation{
		ID:        id,
		OwnerID:   "user-1",
		Title:     "New chat",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStore_ConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateConversation(ctx, makeConversation("conv-1")))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", conv.OwnerID)
	assert.False(t, conv.Archived)

	require.NoError(t, s.SetConversationTitle(ctx, "conv-1", "Weather in Paris"))
	require.NoError(t, s.SetConversationArchived(ctx, "conv-1", true))

	conv, err = s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Weather in Paris", conv.Title)
	assert.True(t, conv.Archived)

	// Archived conversations are hidden unless requested
	visible, err := s.ListConversations(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := s.ListConversations(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteConversation(ctx, "conv-1"))
	_, err = s.GetConversation(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_NotFoundpaths(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetConversationTitle(ctx, "missing", "x"), ErrNotFound)
	assert.ErrorIs(t, s.SetConversationArchived(ctx, "missing", true), ErrNotFound)
	assert.ErrorIs(t, s.DeleteConversation(ctx, "missing"), ErrNotFound)
}

func TestSQLiteStore_MessagesOrderedAndRoundTripped(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.CreateConversation(ctx, makeConversation("conv-1")))

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		msg := &chat.Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			Role:           chat.RoleAssistant,
			Parts: []chat.Part{
				chat.TextPart(fmt.Sprintf("part %d", i)),
			},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.CreateMessage(ctx, msg))
	}

	messages, err := s.FindMessagesByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), msg.ID)
		assert.Equal(t, chat.RoleAssistant, msg.Role)
		require.Len(t, msg.Parts, 1)
		assert.Equal(t, fmt.Sprintf("part %d", i), msg.Parts[0].Content)
	}
}

func TestSQLiteStore_DuplicateMessageID(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.CreateConversation(ctx, makeConversation("conv-1")))

	msg := &chat.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Role:           chat.RoleUser,
		Parts:          []chat.Part{chat.TextPart("hi")},
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.CreateMessage(ctx, msg))
	assert.ErrorIs(t, s.CreateMessage(ctx, msg), ErrDuplicateMessage)
}

func TestSQLiteStore_StreamRecordsAppendOnlyAndIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.CreateConversation(ctx, makeConversation("conv-1")))

	require.NoError(t, s.AppendStreamRecord(ctx, "conv-1", "stream-a"))
	require.NoError(t, s.AppendStreamRecord(ctx, "conv-1", "stream-b"))
	// Same stream id appended twice is a no-op
	require.NoError(t, s.AppendStreamRecord(ctx, "conv-1", "stream-a"))

	ids, err := s.ListStreamIDs(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"stream-a", "stream-b"}, ids)
}

func TestSQLiteStore_StreamRecordsIsolatedPerConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.CreateConversation(ctx, makeConversation("conv-1")))
	require.NoError(t, s.CreateConversation(ctx, makeConversation("conv-2")))

	require.NoError(t, s.AppendStreamRecord(ctx, "conv-1", "stream-a"))
	require.NoError(t, s.AppendStreamRecord(ctx, "conv-2", "stream-b"))

	ids, err := s.ListStreamIDs(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"stream-a"}, ids)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateConversation(t.Context(), makeConversation("conv-1")))
}
