// ABOUTME: Manager owns the per-conversation active-session slot
// ABOUTME: Enforces at-most-one running session per conversation and the idle watchdog

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medora/assist-gateway/internal/chat"
)

// ErrConflict indicates a session is already running for the conversation.
var ErrConflict = errors.New("a generation is already in progress for this conversation")

// Store is what the session layer needs from persistence.
type Store interface {
	AppendStreamRecord(ctx context.Context, conversationID, streamID string) error
	CreateMessage(ctx context.Context, msg *chat.Message) error
}

// Manager tracks the single mutable piece of shared state per
// conversation: its active generation session. Acquisition is exclusive
// and released unconditionally on finish.
type Manager struct {
	mu     sync.Mutex
	active map[string]*Session

	store       Store
	idleTimeout time.Duration
	logger      *slog.Logger
}

// NewManager creates a session manager. Pass nil logger for default.
// idleTimeout bounds how long a running session may go without emitting
// a part before it is terminated as errored; zero disables the watchdog.
func NewManager(store Store, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		active:      make(map[string]*Session),
		store:       store,
		idleTimeout: idleTimeout,
		logger:      logger.With("component", "session"),
	}
}

// Start allocates a stream id, appends it to the conversation's stream
// record log, and registers the session as the conversation's active one.
// Returns ErrConflict if a session is already running for the conversation.
func (m *Manager) Start(ctx context.Context, conversationID string, messageID string) (*Session, error) {
	m.mu.Lock()
	if _, exists := m.active[conversationID]; exists {
		m.mu.Unlock()
		return nil, ErrConflict
	}
	// Reserve the slot before the store round-trip so two concurrent
	// starts cannot both pass the conflict check.
	m.active[conversationID] = nil
	m.mu.Unlock()

	streamID := uuid.New().String()
	if err := m.store.AppendStreamRecord(ctx, conversationID, streamID); err != nil {
		m.releaseSlot(conversationID)
		return nil, fmt.Errorf("recording stream id: %w", err)
	}

	if messageID == "" {
		messageID = uuid.New().String()
	}
	message := &chat.Message{
		ID:             messageID,
		ConversationID: conversationID,
		Role:           chat.RoleAssistant,
		Parts:          []chat.Part{},
		CreatedAt:      time.Now(),
	}

	// The session outlives the request context: generation is
	// server-owned and continues after a client disconnect.
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := newSession(
		sessCtx,
		conversationID,
		streamID,
		message,
		cancel,
		func() { m.releaseSlot(conversationID) },
		m.store.CreateMessage,
		m.logger,
	)

	m.mu.Lock()
	m.active[conversationID] = sess
	m.mu.Unlock()

	if m.idleTimeout > 0 {
		go m.watchdog(sessCtx, sess)
	}

	m.logger.Info("session started",
		"conversation_id", conversationID,
		"stream_id", streamID)
	return sess, nil
}

// Active returns the conversation's running session, if any.
func (m *Manager) Active(conversationID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.active[conversationID]
	if !ok || sess == nil {
		return nil, false
	}
	return sess, true
}

// releaseSlot frees the conversation's active-session slot.
func (m *Manager) releaseSlot(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, conversationID)
}

// watchdog terminates a session that makes no progress within the bound.
func (m *Manager) watchdog(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(m.idleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.mu.Lock()
			idle := time.Since(sess.lastProgress)
			running := sess.status == StatusRunning
			sess.mu.Unlock()

			if !running {
				return
			}
			if idle >= m.idleTimeout {
				m.logger.Warn("session idle timeout",
					"conversation_id", sess.conversationID,
					"stream_id", sess.id,
					"idle", idle)
				sess.Finish(StatusErrored, ErrIdleTimeout) //nolint:errcheck
				return
			}
		}
	}
}
