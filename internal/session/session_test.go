// ABOUTME: Tests for the session replay buffer and fan-out
// ABOUTME: Covers ordering, replay equality, abort semantics, and finish idempotence

package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medora/assist-gateway/internal/chat"
)

type sessionHarness struct {
	sess      *Session
	persisted []*chat.Message
	released  int
	mu        sync.Mutex
}

func newTestSession(t *testing.T) *sessionHarness {
	t.Helper()
	h := &sessionHarness{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.sess = newSession(ctx, "conv-1", "stream-1",
		&chat.Message{
			ID:             "msg-1",
			ConversationID: "conv-1",
			Role:           chat.RoleAssistant,
			Parts:          []chat.Part{},
			CreatedAt:      time.Now(),
		},
		cancel,
		func() {
			h.mu.Lock()
			h.released++
			h.mu.Unlock()
		},
		func(ctx context.Context, msg *chat.Message) error {
			h.mu.Lock()
			h.persisted = append(h.persisted, msg)
			h.mu.Unlock()
			return nil
		},
		slog.Default(),
	)
	return h
}

// drain reads the channel to completion, failing the test if it stalls.
func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestSession_ReplayMatchesLiveDelivery(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	live := sess.Subscribe(t.Context(), 0)

	require.NoError(t, sess.Emit(chat.TextPart("Hello")))
	require.NoError(t, sess.Emit(chat.ReasoningPart("thinking")))
	require.NoError(t, sess.Emit(chat.TextPart(" world")))
	require.NoError(t, sess.Finish(StatusCompleted, nil))

	// A subscriber attaching after the fact replays the identical sequence.
	replay := sess.Subscribe(t.Context(), 0)

	liveEvents := drain(t, live)
	replayEvents := drain(t, replay)
	assert.Equal(t, liveEvents, replayEvents)

	require.Len(t, liveEvents, 4)
	assert.Equal(t, EventTypeText, liveEvents[0].Type)
	assert.Equal(t, "Hello", liveEvents[0].Part.Content)
	assert.Equal(t, EventTypeReasoning, liveEvents[1].Type)
	assert.Equal(t, EventTypeText, liveEvents[2].Type)
	assert.Equal(t, EventTypeDone, liveEvents[3].Type)

	// Offsets are the buffer indices.
	for i, ev := range liveEvents[:3] {
		assert.Equal(t, i, ev.Offset)
	}
}

func TestSession_SubscribeAtOffsetSkipsPrefix(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	require.NoError(t, sess.Emit(chat.TextPart("a")))
	require.NoError(t, sess.Emit(chat.TextPart("b")))

	ch := sess.Subscribe(t.Context(), 2)

	require.NoError(t, sess.Emit(chat.TextPart("c")))
	require.NoError(t, sess.Finish(StatusCompleted, nil))

	events := drain(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, "c", events[0].Part.Content)
	assert.Equal(t, 2, events[0].Offset)
	assert.Equal(t, EventTypeDone, events[1].Type)
}

func TestSession_NegativeOffsetAttachesAtCurrent(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	require.NoError(t, sess.Emit(chat.TextPart("already buffered")))

	ch := sess.Subscribe(t.Context(), -1)

	require.NoError(t, sess.Emit(chat.TextPart("new")))
	require.NoError(t, sess.Finish(StatusCompleted, nil))

	events := drain(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, "new", events[0].Part.Content)
}

func TestSession_TextDeltasCoalesceInMessage(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	require.NoError(t, sess.Emit(chat.TextPart("Hel")))
	require.NoError(t, sess.Emit(chat.TextPart("lo")))
	require.NoError(t, sess.Emit(chat.ReasoningPart("hm")))
	require.NoError(t, sess.Emit(chat.TextPart("!")))

	msg := sess.Message()
	require.Len(t, msg.Parts, 3)
	assert.Equal(t, "Hello", msg.Parts[0].Content)
	assert.Equal(t, "hm", msg.Parts[1].Content)
	assert.Equal(t, "!", msg.Parts[2].Content)

	// The event sequence keeps every delta.
	assert.Equal(t, 4, sess.Offset())
}

func TestSession_ToolSnapshotReplacesByCallID(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	partial := chat.ToolInvocationPart("getWeatherTool", "call-1", chat.ToolStatePartialCall, nil, nil)
	called := chat.ToolInvocationPart("getWeatherTool", "call-1", chat.ToolStateCall, json.RawMessage(`{"location":"Paris"}`), nil)
	result := chat.ToolInvocationPart("getWeatherTool", "call-1", chat.ToolStateResult, json.RawMessage(`{"location":"Paris"}`), json.RawMessage(`{"temp":21}`))

	require.NoError(t, sess.Emit(partial))
	require.NoError(t, sess.Emit(called))
	require.NoError(t, sess.Emit(result))

	msg := sess.Message()
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, chat.ToolStateResult, msg.Parts[0].State)

	// All three snapshots remain in the replay buffer.
	assert.Equal(t, 3, sess.Offset())
}

func TestSession_AbortStopsStreamingKeepsDispatchedResults(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	ch := sess.Subscribe(t.Context(), 0)

	called := chat.ToolInvocationPart("webSearchTool", "call-9", chat.ToolStateCall, json.RawMessage(`{"query":"x"}`), nil)
	require.NoError(t, sess.Emit(called))
	sess.MarkDispatched("call-9")

	sess.Abort()
	assert.Equal(t, StatusAborted, sess.Status())
	assert.Error(t, sess.Context().Err())

	// New text is refused.
	assert.ErrorIs(t, sess.Emit(chat.TextPart("late")), ErrNotRunning)

	// The dispatched tool's result still lands in the message, silently.
	result := chat.ToolInvocationPart("webSearchTool", "call-9", chat.ToolStateResult, json.RawMessage(`{"query":"x"}`), json.RawMessage(`{"results":[]}`))
	require.NoError(t, sess.Emit(result))

	// An undispatched call's result is refused.
	other := chat.ToolInvocationPart("webSearchTool", "call-10", chat.ToolStateResult, nil, json.RawMessage(`{}`))
	assert.ErrorIs(t, sess.Emit(other), ErrNotRunning)

	require.NoError(t, sess.Finish(StatusCompleted, nil))

	events := drain(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeToolInvocation, events[0].Type)
	assert.Equal(t, chat.ToolStateCall, events[0].Part.State)
	assert.Equal(t, EventTypeDone, events[1].Type)

	// Abort took precedence over the requested finish reason.
	assert.Equal(t, StatusAborted, sess.Status())

	require.Len(t, h.persisted, 1)
	require.Len(t, h.persisted[0].Parts, 1)
	assert.Equal(t, chat.ToolStateResult, h.persisted[0].Parts[0].State)
}

func TestSession_AbortFinalizesStreamedUndispatchedCall(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	ch := sess.Subscribe(t.Context(), 0)

	// The call streamed to clients but execution never started.
	pending := chat.ToolInvocationPart("getWeatherTool", "call-3", chat.ToolStateCall, json.RawMessage(`{"location":"Paris"}`), nil)
	require.NoError(t, sess.Emit(pending))

	sess.Abort()

	// Its error result still folds into the message without streaming.
	result := chat.ToolInvocationPart("getWeatherTool", "call-3", chat.ToolStateResult, json.RawMessage(`{"location":"Paris"}`), json.RawMessage(`{"error":true}`))
	require.NoError(t, sess.Emit(result))

	require.NoError(t, sess.Finish(StatusAborted, nil))

	events := drain(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, chat.ToolStateCall, events[0].Part.State)
	assert.Equal(t, EventTypeDone, events[1].Type)

	require.Len(t, h.persisted, 1)
	require.Len(t, h.persisted[0].Parts, 1)
	assert.Equal(t, chat.ToolStateResult, h.persisted[0].Parts[0].State)
	assert.JSONEq(t, `{"error":true}`, string(h.persisted[0].Parts[0].Result))
}

func TestSession_FinishIsIdempotent(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	require.NoError(t, sess.Emit(chat.TextPart("done")))
	require.NoError(t, sess.Finish(StatusCompleted, nil))
	require.NoError(t, sess.Finish(StatusErrored, context.Canceled))

	assert.Equal(t, StatusCompleted, sess.Status())
	assert.Len(t, h.persisted, 1)
	assert.Equal(t, 1, h.released)
}

func TestSession_FinishErroredAppendsErrorEvent(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	require.NoError(t, sess.Emit(chat.TextPart("partial")))
	require.NoError(t, sess.Finish(StatusErrored, ErrIdleTimeout))

	events := drain(t, sess.Subscribe(t.Context(), 0))
	require.Len(t, events, 3)
	assert.Equal(t, EventTypeError, events[1].Type)
	assert.Contains(t, events[1].Error, "idle timeout")
	assert.Equal(t, EventTypeDone, events[2].Type)

	// The partial message still persists.
	require.Len(t, h.persisted, 1)
	assert.Equal(t, "partial", h.persisted[0].Text())
}

func TestSession_EmptyMessageNotPersisted(t *testing.T) {
	h := newTestSession(t)
	require.NoError(t, h.sess.Finish(StatusErrored, context.DeadlineExceeded))
	assert.Empty(t, h.persisted)
	assert.Equal(t, 1, h.released)
}

func TestSession_SubscriberContextCancelClosesChannel(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	ctx, cancel := context.WithCancel(t.Context())
	ch := sess.Subscribe(ctx, 0)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after context cancel")
	}

	// The producer is unaffected.
	require.NoError(t, sess.Emit(chat.TextPart("still running")))
}

func TestSession_SlowConsumerDoesNotBlockProducer(t *testing.T) {
	h := newTestSession(t)
	sess := h.sess

	// Subscribe but do not read: the producer must still emit far past the
	// channel buffer without blocking.
	ch := sess.Subscribe(t.Context(), 0)

	for i := 0; i < subscriberBufferSize*3; i++ {
		require.NoError(t, sess.Emit(chat.TextPart("x")))
	}
	require.NoError(t, sess.Finish(StatusCompleted, nil))

	events := drain(t, ch)
	assert.Len(t, events, subscriberBufferSize*3+1)
}
