// ABOUTME: Per-call lifecycle state machine for tool invocations
// ABOUTME: Enforces forward-only partial-call -> call -> result transitions

package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/medora/assist-gateway/internal/chat"
)

// ErrInvalidTransition is returned when an invocation is asked to move
// backward, skip a state, or leave the terminal result state.
var ErrInvalidTransition = errors.New("invalid tool state transition")

// Invocation tracks the lifecycle of a single tool call within a message.
// Each callId owns an independent instance; concurrent invocations never
// block each other. State only moves forward and result is terminal.
type Invocation struct {
	mu       sync.Mutex
	callID   string
	toolName string
	state    chat.ToolState
	args     json.RawMessage
	result   json.RawMessage
}

// NewInvocation creates an invocation in the partial-call state, meaning
// the model has signaled intent but arguments are still streaming.
func NewInvocation(callID, toolName string) *Invocation {
	return &Invocation{
		callID:   callID,
		toolName: toolName,
		state:    chat.ToolStatePartialCall,
	}
}

// CallID returns the unique call identifier.
func (inv *Invocation) CallID() string { return inv.callID }

// ToolName returns the name of the tool being invoked.
func (inv *Invocation) ToolName() string { return inv.toolName }

// State returns the current lifecycle state.
func (inv *Invocation) State() chat.ToolState {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// MarkCalled transitions partial-call -> call with the final arguments.
func (inv *Invocation) MarkCalled(args json.RawMessage) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.state != chat.ToolStatePartialCall {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.state, chat.ToolStateCall)
	}
	inv.state = chat.ToolStateCall
	inv.args = args
	return nil
}

// MarkResult transitions call -> result with the tool output. Once set the
// result is immutable.
func (inv *Invocation) MarkResult(result json.RawMessage) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.state != chat.ToolStateCall {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.state, chat.ToolStateResult)
	}
	inv.state = chat.ToolStateResult
	inv.result = result
	return nil
}

// Abandon finalizes an invocation that never reached the call state (the
// model stopped mid-arguments). It surfaces as an explicit error result
// rather than silently vanishing.
func (inv *Invocation) Abandon() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.state != chat.ToolStatePartialCall {
		return fmt.Errorf("%w: cannot abandon from %s", ErrInvalidTransition, inv.state)
	}
	inv.state = chat.ToolStateResult
	inv.result = ErrorResult(errors.New("tool call abandoned before arguments completed"))
	return nil
}

// Fail finalizes a call that can no longer execute, such as one whose
// turn was aborted before dispatch. The terminal result is the error
// payload; a call that already has a result cannot fail.
func (inv *Invocation) Fail(err error) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.state == chat.ToolStateResult {
		return fmt.Errorf("%w: cannot fail from %s", ErrInvalidTransition, inv.state)
	}
	inv.state = chat.ToolStateResult
	inv.result = ErrorResult(err)
	return nil
}

// Part returns a snapshot of the invocation as a tool-invocation part.
func (inv *Invocation) Part() chat.Part {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return chat.ToolInvocationPart(inv.toolName, inv.callID, inv.state, inv.args, inv.result)
}

// ErrorResult builds the error payload used for failed or abandoned
// invocations: {"error":true,"message":"..."}.
func ErrorResult(err error) json.RawMessage {
	payload, marshalErr := json.Marshal(map[string]any{
		"error":   true,
		"message": err.Error(),
	})
	if marshalErr != nil {
		return json.RawMessage(`{"error":true}`)
	}
	return payload
}
