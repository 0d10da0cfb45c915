// ABOUTME: Core data model for assistant conversations, messages, and typed parts
// ABOUTME: Parts are a closed tagged variant: text, reasoning, tool-invocation

package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownPartType is returned when a part carries a type outside the
// closed variant set.
var ErrUnknownPartType = errors.New("unknown part type")

// Role identifies the author side of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation groups an ordered list of messages for one owner.
// At most one generation session is ever active per conversation.
type Conversation struct {
	ID        string
	OwnerID   string
	Title     string
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn in a conversation. IDs are client-generated and
// globally unique. A message is immutable once persisted; the only
// append-in-place mutation happens while a session is actively streaming.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Parts          []Part    `json:"parts"`
	CreatedAt      time.Time `json:"createdAt"`
}

// StreamRecord is one row in the append-only stream log. One record is
// written per generation session ever started for a conversation.
type StreamRecord struct {
	ConversationID string
	StreamID       string
	CreatedAt      time.Time
}

// PartType discriminates the Part variant.
type PartType string

const (
	PartTypeText           PartType = "text"
	PartTypeReasoning      PartType = "reasoning"
	PartTypeToolInvocation PartType = "tool-invocation"
)

// ToolState is the lifecycle state of a tool invocation part.
// States only move forward: partial-call -> call -> result.
type ToolState string

const (
	ToolStatePartialCall ToolState = "partial-call"
	ToolStateCall        ToolState = "call"
	ToolStateResult      ToolState = "result"
)

// Part is one typed fragment of an assistant message. The Type field
// selects the variant; consumers switch exhaustively on it.
//
// Wire shapes match the frontend contract:
//
//	{"type":"text","content":"..."}
//	{"type":"reasoning","content":"..."}
//	{"type":"tool-invocation","toolName":"...","callId":"...","state":"...","args":{...},"result":{...}}
type Part struct {
	Type PartType `json:"type"`

	// For text and reasoning variants.
	Content string `json:"content,omitempty"`

	// For the tool-invocation variant.
	ToolName string          `json:"toolName,omitempty"`
	CallID   string          `json:"callId,omitempty"`
	State    ToolState       `json:"state,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// TextPart builds a text part.
func TextPart(content string) Part {
	return Part{Type: PartTypeText, Content: content}
}

// ReasoningPart builds a reasoning part.
func ReasoningPart(content string) Part {
	return Part{Type: PartTypeReasoning, Content: content}
}

// ToolInvocationPart builds a tool-invocation part snapshot.
func ToolInvocationPart(toolName, callID string, state ToolState, args, result json.RawMessage) Part {
	return Part{
		Type:     PartTypeToolInvocation,
		ToolName: toolName,
		CallID:   callID,
		State:    state,
		Args:     args,
		Result:   result,
	}
}

// Validate checks the part against the closed variant set.
func (p Part) Validate() error {
	switch p.Type {
	case PartTypeText, PartTypeReasoning:
		return nil
	case PartTypeToolInvocation:
		if p.ToolName == "" {
			return errors.New("tool-invocation part missing toolName")
		}
		if p.CallID == "" {
			return errors.New("tool-invocation part missing callId")
		}
		switch p.State {
		case ToolStatePartialCall, ToolStateCall, ToolStateResult:
			return nil
		default:
			return fmt.Errorf("tool-invocation part has invalid state %q", p.State)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPartType, p.Type)
	}
}

// EncodeParts serializes a part list for storage.
func EncodeParts(parts []Part) ([]byte, error) {
	if parts == nil {
		parts = []Part{}
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("encoding parts: %w", err)
	}
	return data, nil
}

// DecodeParts deserializes a stored part list.
func DecodeParts(data []byte) ([]Part, error) {
	if len(data) == 0 {
		return []Part{}, nil
	}
	var parts []Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("decoding parts: %w", err)
	}
	return parts, nil
}

// Text concatenates the content of all text parts, in emission order.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			out += p.Content
		}
	}
	return out
}

// Clone returns a deep copy of the message. Sessions hand out clones so
// consumers never observe a message that is still being appended to.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Parts = make([]Part, len(m.Parts))
	copy(cp.Parts, m.Parts)
	return &cp
}
