// ABOUTME: Resume controller decides how a reconnecting client re-attaches to a stream
// ABOUTME: Live sessions replay from an offset; finished ones replay the final message

package resume

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medora/assist-gateway/internal/chat"
	"github.com/medora/assist-gateway/internal/session"
)

// DefaultReplayWindow bounds how stale a finished turn may be and still be
// replayed on reconnect. It guards clients that do not report their last
// known message id: older turns are already in their loaded history, so
// replaying them would duplicate messages.
const DefaultReplayWindow = 15 * time.Second

// Decision classifies what a reconnecting client should receive.
type Decision string

const (
	// DecisionNone means there is nothing to replay: no stream was ever
	// started, or the last one finished too long ago.
	DecisionNone Decision = "none"

	// DecisionLive means a session is running; the client attaches to it
	// at its requested offset.
	DecisionLive Decision = "live"

	// DecisionFinished means the last session completed recently; the
	// client receives its final message as a single append-message event.
	DecisionFinished Decision = "finished"
)

// Sessions looks up the running session for a conversation.
type Sessions interface {
	Active(conversationID string) (*session.Session, bool)
}

// Store is the slice of persistence the controller reads.
type Store interface {
	ListStreamIDs(ctx context.Context, conversationID string) ([]string, error)
	FindMessagesByConversation(ctx context.Context, conversationID string) ([]*chat.Message, error)
}

// Attachment is the controller's verdict plus whatever the decision needs:
// the live session, or the finished message to replay.
type Attachment struct {
	Decision Decision
	StreamID string

	// Session is set for DecisionLive.
	Session *session.Session

	// Message is set for DecisionFinished.
	Message *chat.Message
}

// Controller resolves reconnects against the stream record log and the
// active-session registry.
type Controller struct {
	sessions     Sessions
	store        Store
	replayWindow time.Duration
	logger       *slog.Logger
}

// NewController creates a resume controller. Pass nil logger for default
// and a non-positive window for DefaultReplayWindow.
func NewController(sessions Sessions, store Store, replayWindow time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if replayWindow <= 0 {
		replayWindow = DefaultReplayWindow
	}
	return &Controller{
		sessions:     sessions,
		store:        store,
		replayWindow: replayWindow,
		logger:       logger.With("component", "resume"),
	}
}

// Resume decides how the client should re-attach. lastMessageID is the id
// of the last message the client already holds; when it matches the
// persisted tail, there is nothing to replay. Resuming is idempotent: the
// same request yields the same decision and, for a live session, the same
// event suffix from the given offset.
func (c *Controller) Resume(ctx context.Context, conversationID, lastMessageID string) (*Attachment, error) {
	streams, err := c.store.ListStreamIDs(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing stream records: %w", err)
	}
	if len(streams) == 0 {
		return &Attachment{Decision: DecisionNone}, nil
	}
	latest := streams[len(streams)-1]

	if sess, ok := c.sessions.Active(conversationID); ok {
		c.logger.Debug("re-attaching to live session",
			"conversation_id", conversationID,
			"stream_id", sess.ID())
		return &Attachment{
			Decision: DecisionLive,
			StreamID: sess.ID(),
			Session:  sess,
		}, nil
	}

	// No live session: the latest stream finished. Replay its final
	// message if it is recent enough that the client's loaded history
	// cannot already contain it.
	msgs, err := c.store.FindMessagesByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	if len(msgs) == 0 {
		return &Attachment{Decision: DecisionNone, StreamID: latest}, nil
	}
	last := msgs[len(msgs)-1]
	if lastMessageID != "" && lastMessageID == last.ID {
		// Client already holds the final message. Re-attaching with the
		// same id never replays it twice.
		return &Attachment{Decision: DecisionNone, StreamID: latest}, nil
	}
	if last.Role != chat.RoleAssistant || time.Since(last.CreatedAt) > c.replayWindow {
		return &Attachment{Decision: DecisionNone, StreamID: latest}, nil
	}

	return &Attachment{
		Decision: DecisionFinished,
		StreamID: latest,
		Message:  last,
	}, nil
}
