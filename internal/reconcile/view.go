// ABOUTME: View merges streamed and replayed events into a message list without duplicates
// ABOUTME: Deduplicates by event identity and message id, making at-least-once delivery safe

package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/medora/assist-gateway/internal/chat"
	"github.com/medora/assist-gateway/internal/session"
)

// View is one consumer's materialized picture of a conversation. Events
// from live subscriptions and resume attempts both flow through Apply;
// overlap between the two is absorbed here. All state is scoped to the
// view and discarded with it.
type View struct {
	mu sync.Mutex

	conversationID string
	messages       []*chat.Message

	// current is the assistant message being assembled from part events.
	current *chat.Message

	// processed holds identities of events already applied. At-least-once
	// delivery makes duplicates normal, not exceptional.
	processed map[string]bool

	// resumeAttempted is set by the first resume so overlapping attempts
	// do not double-apply.
	resumeAttempted bool

	lastError string
}

// NewView seeds a view with the conversation's loaded history.
func NewView(conversationID string, history []*chat.Message) *View {
	v := &View{
		conversationID: conversationID,
		processed:      make(map[string]bool),
	}
	for _, msg := range history {
		v.messages = append(v.messages, msg.Clone())
	}
	return v
}

// BeginResume marks that a resume attempt is in flight. It returns false
// if one was already attempted for this view, in which case the caller
// should not start another.
func (v *View) BeginResume() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.resumeAttempted {
		return false
	}
	v.resumeAttempted = true
	return true
}

// Apply folds one event into the view. Applying the same event twice is a
// no-op; events carrying a message already present are dropped by id.
func (v *View) Apply(ev session.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := eventIdentity(ev)
	if v.processed[key] {
		return
	}
	v.processed[key] = true

	switch ev.Type {
	case session.EventTypeText, session.EventTypeReasoning, session.EventTypeToolInvocation:
		if ev.Part == nil {
			return
		}
		v.applyPart(*ev.Part)

	case session.EventTypeAppendMessage:
		if ev.Message == nil {
			return
		}
		v.appendMessage(ev.Message)

	case session.EventTypeError:
		v.lastError = ev.Error

	case session.EventTypeDone:
		v.finalizeCurrent()
	}
}

// applyPart streams a part into the in-progress assistant message,
// coalescing consecutive deltas and replacing tool snapshots by callId.
func (v *View) applyPart(part chat.Part) {
	if v.current == nil {
		v.current = &chat.Message{
			ConversationID: v.conversationID,
			Role:           chat.RoleAssistant,
			CreatedAt:      time.Now(),
		}
	}
	parts := v.current.Parts

	switch part.Type {
	case chat.PartTypeText, chat.PartTypeReasoning:
		if n := len(parts); n > 0 && parts[n-1].Type == part.Type {
			parts[n-1].Content += part.Content
			return
		}
		v.current.Parts = append(parts, part)

	case chat.PartTypeToolInvocation:
		for i := range parts {
			if parts[i].Type == chat.PartTypeToolInvocation && parts[i].CallID == part.CallID {
				parts[i] = part
				return
			}
		}
		v.current.Parts = append(parts, part)
	}
}

// appendMessage adds a complete message unless one with the same id is
// already present. Overlapping resumes deliver the same append-message
// more than once; the second is a no-op.
func (v *View) appendMessage(msg *chat.Message) {
	for _, existing := range v.messages {
		if existing.ID == msg.ID {
			return
		}
	}
	v.messages = append(v.messages, msg.Clone())
	v.current = nil
}

// finalizeCurrent promotes the in-progress message into the list.
func (v *View) finalizeCurrent() {
	if v.current == nil || len(v.current.Parts) == 0 {
		v.current = nil
		return
	}
	if v.current.ID != "" {
		for _, existing := range v.messages {
			if existing.ID == v.current.ID {
				v.current = nil
				return
			}
		}
	}
	v.messages = append(v.messages, v.current)
	v.current = nil
}

// Messages returns a snapshot of the reconciled list, including the
// in-progress message if one exists.
func (v *View) Messages() []*chat.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*chat.Message, 0, len(v.messages)+1)
	for _, msg := range v.messages {
		out = append(out, msg.Clone())
	}
	if v.current != nil && len(v.current.Parts) > 0 {
		out = append(out, v.current.Clone())
	}
	return out
}

// LastError returns the most recent terminal error event's text.
func (v *View) LastError() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastError
}

// eventIdentity derives a stable identity from the event's index and the
// hash of its content, so retransmissions of the same event collide.
func eventIdentity(ev session.Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:", ev.Type, ev.Offset)
	if ev.Part != nil {
		payload, _ := json.Marshal(ev.Part)
		h.Write(payload)
	}
	if ev.Message != nil {
		h.Write([]byte(ev.Message.ID))
	}
	h.Write([]byte(ev.Error))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
