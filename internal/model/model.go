// ABOUTME: Model provider abstraction producing typed generation events
// ABOUTME: Defines the streaming contract the session layer consumes

package model

import (
	"context"
	"encoding/json"
)

// EventType indicates the type of model output event.
type EventType int

const (
	// EventText is a chunk of answer text.
	EventText EventType = iota
	// EventReasoning is a chunk of reasoning text.
	EventReasoning
	// EventToolCallStart signals the model intends to call a tool but its
	// arguments are still streaming.
	EventToolCallStart
	// EventToolCall carries a tool call with final arguments.
	EventToolCall
	// EventDone marks the end of a successful stream.
	EventDone
	// EventError marks a stream failure.
	EventError
)

// ToolCall identifies one model-initiated tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Event is one typed chunk of model output.
type Event struct {
	Type     EventType
	Text     string
	ToolCall *ToolCall
	Err      error
}

// ToolDefinition describes a tool exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// TurnMessage is one prior turn handed to the model. Text carries the
// flattened content; ToolCalls/ToolResults replay earlier invocations.
type TurnMessage struct {
	Role       string
	Text       string
	ToolCalls  []ToolCall
	ToolResult *ToolResult
}

// ToolResult replays the output of an executed tool back to the model.
type ToolResult struct {
	CallID string
	Name   string
	Output json.RawMessage
}

// Request describes one streaming generation round.
type Request struct {
	Model    string
	System   string
	Messages []TurnMessage
	Tools    []ToolDefinition
}

// Provider streams model output as typed events. The returned channel is
// closed after a Done or Error event.
type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
	GenerateTitle(ctx context.Context, userMessage string) (string, error)
}
