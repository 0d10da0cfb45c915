// ABOUTME: GenerationSession owns one streaming assistant turn for a conversation
// ABOUTME: Buffers emitted parts for replay and fans out to live subscribers without gaps

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/medora/assist-gateway/internal/chat"
)

// ErrNotRunning is returned by Emit after the session has reached a
// terminal state.
var ErrNotRunning = errors.New("session is not running")

// ErrIdleTimeout marks a session terminated for producing no parts within
// the configured bound.
var ErrIdleTimeout = errors.New("generation produced no output within the idle timeout")

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusErrored   Status = "errored"
)

// EventType identifies a streamed event. Part events reuse the part type
// names so the wire contract matches the frontend reducer.
type EventType string

const (
	EventTypeText           EventType = "text"
	EventTypeReasoning      EventType = "reasoning"
	EventTypeToolInvocation EventType = "tool-invocation"
	EventTypeAppendMessage  EventType = "append-message"
	EventTypeError          EventType = "error"
	EventTypeDone           EventType = "done"
)

// Event is one entry in a session's output sequence. Offset is the event's
// index in the replay buffer; clients hand it back when re-attaching.
type Event struct {
	Type    EventType
	Offset  int
	Part    *chat.Part
	Message *chat.Message
	Error   string
}

// Session is the in-memory owner of one conversation turn's output stream.
// Exactly one producer appends; any number of consumers subscribe. The
// producer never blocks on consumer presence.
type Session struct {
	id             string
	conversationID string

	mu   sync.Mutex
	cond *sync.Cond

	status   Status
	finished bool

	// events is the replay buffer: every emitted event, in emission order.
	events []Event

	// message is the assistant message being built. Parts are coalesced
	// (text appends in place, tool invocations update by callId) so the
	// persisted message mirrors what a client reducer would hold.
	message *chat.Message

	// dispatched tracks tool callIds whose execution has started. Their
	// results are still recorded after an abort so they are not lost.
	dispatched map[string]bool

	lastProgress time.Time

	// cancel tears down the model stream. Called on abort and timeout.
	cancel context.CancelFunc

	// release returns the conversation's active-session slot. Called
	// exactly once, on finish, including error paths.
	release func()

	// persist writes the final assistant message on finish.
	persist func(ctx context.Context, msg *chat.Message) error

	// ctx is cancelled on abort, timeout, and finish. The model stream
	// feeding this session derives from it.
	ctx context.Context

	logger *slog.Logger
}

func newSession(ctx context.Context, conversationID, streamID string, message *chat.Message, cancel context.CancelFunc, release func(), persist func(ctx context.Context, msg *chat.Message) error, logger *slog.Logger) *Session {
	s := &Session{
		ctx:            ctx,
		id:             streamID,
		conversationID: conversationID,
		status:         StatusRunning,
		message:        message,
		dispatched:     make(map[string]bool),
		lastProgress:   time.Now(),
		cancel:         cancel,
		release:        release,
		persist:        persist,
		logger:         logger,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the stream id allocated for this session.
func (s *Session) ID() string { return s.id }

// ConversationID returns the conversation this session belongs to.
func (s *Session) ConversationID() string { return s.conversationID }

// Context is cancelled when the session stops accepting new parts, via
// user stop, idle timeout, or finish.
func (s *Session) Context() context.Context { return s.ctx }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Offset returns the number of events emitted so far.
func (s *Session) Offset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Message returns a snapshot of the assistant message built so far.
func (s *Session) Message() *chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message.Clone()
}

// Emit appends a part to the replay buffer and the in-progress message,
// then wakes all subscribers. Parts are delivered strictly in emission
// order. After an abort, only tool results are accepted, and only for
// calls the message already contains or that were dispatched; those fold
// into the message without being streamed, so a persisted message never
// carries a call frozen short of its result.
func (s *Session) Emit(part chat.Part) error {
	if err := part.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusRunning:
		// fall through
	case StatusAborted:
		if part.Type == chat.PartTypeToolInvocation && part.State == chat.ToolStateResult &&
			(s.dispatched[part.CallID] || s.hasToolCallLocked(part.CallID)) {
			s.applyPartLocked(part)
			return nil
		}
		return ErrNotRunning
	default:
		return ErrNotRunning
	}

	p := part
	s.events = append(s.events, Event{
		Type:   EventType(part.Type),
		Offset: len(s.events),
		Part:   &p,
	})
	s.applyPartLocked(part)
	s.lastProgress = time.Now()
	s.cond.Broadcast()
	return nil
}

// hasToolCallLocked reports whether the in-progress message already holds
// a part for the given call id.
func (s *Session) hasToolCallLocked(callID string) bool {
	for i := range s.message.Parts {
		p := &s.message.Parts[i]
		if p.Type == chat.PartTypeToolInvocation && p.CallID == callID {
			return true
		}
	}
	return false
}

// applyPartLocked folds a part into the in-progress message. Text and
// reasoning deltas coalesce with a trailing part of the same type; tool
// invocation snapshots replace the part with the same callId.
func (s *Session) applyPartLocked(part chat.Part) {
	parts := s.message.Parts

	switch part.Type {
	case chat.PartTypeText, chat.PartTypeReasoning:
		if n := len(parts); n > 0 && parts[n-1].Type == part.Type {
			parts[n-1].Content += part.Content
			return
		}
		s.message.Parts = append(parts, part)

	case chat.PartTypeToolInvocation:
		for i := range parts {
			if parts[i].Type == chat.PartTypeToolInvocation && parts[i].CallID == part.CallID {
				parts[i] = part
				return
			}
		}
		s.message.Parts = append(parts, part)
	}
}

// MarkDispatched records that a tool call's execution has started, so its
// result survives a subsequent abort.
func (s *Session) MarkDispatched(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched[callID] = true
}

// Abort is the user-initiated stop signal. The session stops emitting new
// parts and cancels the model stream; tool calls already dispatched are
// still allowed to land their results before the final message persists.
// Disconnecting clients never abort; generation is server-owned.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return
	}
	s.status = StatusAborted
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	s.logger.Info("session aborted by user",
		"conversation_id", s.conversationID,
		"stream_id", s.id)
}

// Finish transitions the session to a terminal state, persists the final
// assistant message (possibly partial), and releases the conversation's
// active-session slot. It is idempotent; the first call wins. An abort or
// error that already happened takes precedence over the requested reason.
func (s *Session) Finish(reason Status, cause error) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	s.finished = true

	if s.status == StatusRunning {
		s.status = reason
		if reason == StatusErrored && cause != nil {
			s.events = append(s.events, Event{
				Type:   EventTypeError,
				Offset: len(s.events),
				Error:  cause.Error(),
			})
		}
	}
	final := s.message.Clone()
	status := s.status
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	defer s.release()

	// Persist with a detached context so a dropped request cannot lose
	// the final message.
	var persistErr error
	if len(final.Parts) > 0 && s.persist != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		persistErr = s.persist(saveCtx, final)
	}

	if persistErr != nil {
		s.logger.Error("failed to persist final message",
			"conversation_id", s.conversationID,
			"stream_id", s.id,
			"message_id", final.ID,
			"error", persistErr)
		return persistErr
	}

	s.logger.Info("session finished",
		"conversation_id", s.conversationID,
		"stream_id", s.id,
		"status", status,
		"parts", len(final.Parts),
		"events", len(s.Events(0)))
	return nil
}

// Subscribe attaches a consumer starting at the given replay offset. A
// negative offset attaches at the session's current offset, skipping
// everything already buffered. The returned channel replays buffered
// events in order, then delivers live events, and closes after a final
// done event once the session is terminal and fully drained. The
// subscription is torn down when ctx is cancelled.
func (s *Session) Subscribe(ctx context.Context, offset int) <-chan Event {
	s.mu.Lock()
	if offset < 0 || offset > len(s.events) {
		offset = len(s.events)
	}
	s.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)

	// Wake the pump when the subscriber goes away.
	stop := context.AfterFunc(ctx, func() {
		s.cond.Broadcast()
	})

	go func() {
		defer close(ch)
		defer stop()

		cursor := offset
		for {
			s.mu.Lock()
			for cursor >= len(s.events) && !s.terminalLocked() && ctx.Err() == nil {
				s.cond.Wait()
			}
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			if cursor < len(s.events) {
				ev := s.events[cursor]
				cursor++
				s.mu.Unlock()
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
				continue
			}
			// Terminal and drained.
			s.mu.Unlock()
			select {
			case ch <- Event{Type: EventTypeDone, Offset: cursor}:
			case <-ctx.Done():
			}
			return
		}
	}()

	return ch
}

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// terminalLocked reports whether no further events will be buffered.
// Aborted counts as terminal for subscribers: post-abort tool results are
// folded into the message but never streamed.
func (s *Session) terminalLocked() bool {
	return s.status != StatusRunning
}

// Events returns a copy of the replay buffer from the given offset.
func (s *Session) Events(offset int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset > len(s.events) {
		return nil
	}
	out := make([]Event, len(s.events)-offset)
	copy(out, s.events[offset:])
	return out
}
