// ABOUTME: Runner drives one generation turn: model stream in, typed parts out
// ABOUTME: Executes tool calls concurrently and loops rounds until the model stops calling tools

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/medora/assist-gateway/internal/chat"
	"github.com/medora/assist-gateway/internal/model"
	"github.com/medora/assist-gateway/internal/store"
	"github.com/medora/assist-gateway/internal/tool"
)

// maxToolRounds bounds how many times the model may chain tool calls in
// one turn.
const maxToolRounds = 4

// RunnerStore is what the runner needs from persistence.
type RunnerStore interface {
	CreateMessage(ctx context.Context, msg *chat.Message) error
	FindMessagesByConversation(ctx context.Context, conversationID string) ([]*chat.Message, error)
}

// Runner turns a user message into a streamed assistant reply.
type Runner struct {
	sessions *Manager
	provider model.Provider
	tools    *tool.Registry
	store    RunnerStore
	system   string
	logger   *slog.Logger
}

// NewRunner wires the generation pipeline. Pass nil logger for default.
func NewRunner(sessions *Manager, provider model.Provider, tools *tool.Registry, store RunnerStore, system string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		sessions: sessions,
		provider: provider,
		tools:    tools,
		store:    store,
		system:   system,
		logger:   logger.With("component", "runner"),
	}
}

// GenerateRequest describes one generation trigger.
type GenerateRequest struct {
	ConversationID string
	UserMessage    *chat.Message
	Model          string
	ToolSelection  []string
	Timezone       string
}

// Generate records the user message, starts a session, and begins
// consuming model output in the background. The returned session is
// already registered as the conversation's active one; callers subscribe
// to observe output. Generation continues regardless of client presence.
//
// Record first, then act: the user message is persisted before the model
// is invoked, so a record exists even if generation fails.
func (r *Runner) Generate(ctx context.Context, req GenerateRequest) (*Session, error) {
	if req.UserMessage == nil {
		return nil, errors.New("user message is required")
	}

	history, err := r.store.FindMessagesByConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	sess, err := r.sessions.Start(ctx, req.ConversationID, "")
	if err != nil {
		return nil, err
	}

	if err := r.store.CreateMessage(ctx, req.UserMessage); err != nil {
		// A duplicate means the client retried the same send; the
		// original row stands and generation proceeds.
		if !isDuplicate(err) {
			sess.Finish(StatusErrored, err) //nolint:errcheck
			return nil, fmt.Errorf("recording user message: %w", err)
		}
	}

	turns := historyToTurns(history)
	turns = append(turns, messageToTurns(req.UserMessage)...)

	go r.run(sess, req, turns)
	return sess, nil
}

// run consumes model output rounds until no more tool calls are made.
func (r *Runner) run(sess *Session, req GenerateRequest, turns []model.TurnMessage) {
	registry := r.tools.Subset(req.ToolSelection)
	defs := toolDefinitions(registry)
	system := r.system
	if req.Timezone != "" {
		system += "\nThe user's timezone is " + req.Timezone + "."
	}

	for round := 0; round < maxToolRounds; round++ {
		calls, results, streamErr := r.runRound(sess, model.Request{
			Model:    req.Model,
			System:   system,
			Messages: turns,
			Tools:    defs,
		}, registry)

		if streamErr != nil {
			sess.Finish(StatusErrored, streamErr) //nolint:errcheck
			return
		}
		if len(calls) == 0 || sess.Status() != StatusRunning {
			break
		}

		// Feed this round's calls and results back for the next one.
		assistantTurn := model.TurnMessage{Role: "assistant", Text: results.text}
		for _, call := range calls {
			assistantTurn.ToolCalls = append(assistantTurn.ToolCalls, *call)
		}
		turns = append(turns, assistantTurn)
		for _, call := range calls {
			turns = append(turns, model.TurnMessage{ToolResult: &model.ToolResult{
				CallID: call.ID,
				Name:   call.Name,
				Output: results.byCall[call.ID],
			}})
		}
	}

	sess.Finish(StatusCompleted, nil) //nolint:errcheck
}

// roundResults collects what one model round produced.
type roundResults struct {
	mu     sync.Mutex
	text   string
	byCall map[string]json.RawMessage
}

// runRound streams one model response, emitting parts as they arrive and
// executing tool calls concurrently. It returns the dispatched calls and
// their results once all of them have landed.
func (r *Runner) runRound(sess *Session, req model.Request, registry *tool.Registry) ([]*model.ToolCall, *roundResults, error) {
	events, err := r.provider.Stream(sess.Context(), req)
	if err != nil {
		return nil, nil, fmt.Errorf("starting model stream: %w", err)
	}

	results := &roundResults{byCall: make(map[string]json.RawMessage)}
	invocations := make(map[string]*tool.Invocation)
	var dispatched []*model.ToolCall
	var wg sync.WaitGroup
	var streamErr error

	for ev := range events {
		switch ev.Type {
		case model.EventText:
			if ev.Text == "" {
				continue
			}
			results.text += ev.Text
			sess.Emit(chat.TextPart(ev.Text)) //nolint:errcheck

		case model.EventReasoning:
			if ev.Text == "" {
				continue
			}
			sess.Emit(chat.ReasoningPart(ev.Text)) //nolint:errcheck

		case model.EventToolCallStart:
			inv := tool.NewInvocation(ev.ToolCall.ID, ev.ToolCall.Name)
			invocations[ev.ToolCall.ID] = inv
			sess.Emit(inv.Part()) //nolint:errcheck

		case model.EventToolCall:
			inv, ok := invocations[ev.ToolCall.ID]
			if !ok {
				inv = tool.NewInvocation(ev.ToolCall.ID, ev.ToolCall.Name)
				invocations[ev.ToolCall.ID] = inv
			}
			if err := inv.MarkCalled(ev.ToolCall.Args); err != nil {
				r.logger.Warn("dropping malformed tool call",
					"call_id", ev.ToolCall.ID,
					"error", err)
				continue
			}
			if sess.Status() != StatusRunning {
				// Aborted mid-stream: never dispatched. The end-of-round
				// sweep finalizes it with an error result.
				continue
			}
			sess.MarkDispatched(ev.ToolCall.ID)
			sess.Emit(inv.Part()) //nolint:errcheck

			dispatched = append(dispatched, ev.ToolCall)
			wg.Add(1)
			go func(inv *tool.Invocation, call *model.ToolCall) {
				defer wg.Done()
				// Detached context: a dispatched tool completes even if
				// the session is aborted, so its result is not lost. The
				// registry bounds each attempt with its own timeout.
				result := registry.Execute(context.Background(), call.Name, call.Args)
				if err := inv.MarkResult(result); err != nil {
					r.logger.Error("tool result rejected", "call_id", call.ID, "error", err)
					return
				}
				sess.Emit(inv.Part()) //nolint:errcheck

				results.mu.Lock()
				results.byCall[call.ID] = result
				results.mu.Unlock()
			}(inv, ev.ToolCall)

		case model.EventError:
			streamErr = ev.Err

		case model.EventDone:
			// Channel closes right after.
		}
	}

	wg.Wait()

	// Every invocation left short of a result gets a terminal error
	// result: partial-calls the model never completed, and completed
	// calls that missed dispatch because the session was aborted. The
	// persisted message never holds a non-terminal tool part.
	for _, inv := range invocations {
		switch inv.State() {
		case chat.ToolStatePartialCall:
			if err := inv.Abandon(); err == nil {
				sess.Emit(inv.Part()) //nolint:errcheck
			}
		case chat.ToolStateCall:
			if err := inv.Fail(errors.New("tool call aborted before execution")); err == nil {
				sess.Emit(inv.Part()) //nolint:errcheck
			}
		}
	}

	return dispatched, results, streamErr
}

// toolDefinitions exposes a registry's tools to the model.
func toolDefinitions(registry *tool.Registry) []model.ToolDefinition {
	var defs []model.ToolDefinition
	for _, name := range registry.Names() {
		t, ok := registry.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// historyToTurns flattens persisted messages into model turns.
func historyToTurns(history []*chat.Message) []model.TurnMessage {
	var turns []model.TurnMessage
	for _, msg := range history {
		turns = append(turns, messageToTurns(msg)...)
	}
	return turns
}

// messageToTurns converts one message, replaying any tool invocations it
// carries so the model sees its earlier calls and their outputs.
func messageToTurns(msg *chat.Message) []model.TurnMessage {
	turn := model.TurnMessage{Role: string(msg.Role), Text: msg.Text()}
	var resultTurns []model.TurnMessage

	for _, part := range msg.Parts {
		if part.Type != chat.PartTypeToolInvocation {
			continue
		}
		turn.ToolCalls = append(turn.ToolCalls, model.ToolCall{
			ID:   part.CallID,
			Name: part.ToolName,
			Args: part.Args,
		})
		if part.State == chat.ToolStateResult {
			resultTurns = append(resultTurns, model.TurnMessage{ToolResult: &model.ToolResult{
				CallID: part.CallID,
				Name:   part.ToolName,
				Output: part.Result,
			}})
		}
	}

	return append([]model.TurnMessage{turn}, resultTurns...)
}

// isDuplicate reports whether the error is a duplicate-message insert.
func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicateMessage)
}
