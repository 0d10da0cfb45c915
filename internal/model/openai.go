// ABOUTME: OpenAI-compatible streaming provider built on go-openai
// ABOUTME: Maps completion deltas to typed events and accumulates tool call arguments

package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider against any OpenAI-compatible API.
type OpenAIProvider struct {
	client     *openai.Client
	titleModel string
	logger     *slog.Logger
}

// OpenAIConfig configures the provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	TitleModel string
}

// NewOpenAIProvider creates a provider. Pass nil logger for default.
func NewOpenAIProvider(cfg OpenAIConfig, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	titleModel := cfg.TitleModel
	if titleModel == "" {
		titleModel = openai.GPT4oMini
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		titleModel: titleModel,
		logger:     logger.With("component", "model"),
	}
}

// Stream starts one streaming completion round.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req),
		Stream:   true,
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	events := make(chan Event)
	go func() {
		defer close(events)

		stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			events <- Event{Type: EventError, Err: fmt.Errorf("creating completion stream: %w", err)}
			return
		}
		defer stream.Close()

		splitter := &reasoningSplitter{}
		acc := newToolCallAccumulator()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				events <- Event{Type: EventError, Err: fmt.Errorf("stream error: %w", err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta

			if delta.Content != "" {
				for _, ev := range splitter.Feed(delta.Content) {
					events <- ev
				}
			}
			for _, started := range acc.feed(delta.ToolCalls) {
				events <- Event{Type: EventToolCallStart, ToolCall: started}
			}
		}

		for _, ev := range splitter.Flush() {
			events <- ev
		}
		for _, call := range acc.finalize() {
			events <- Event{Type: EventToolCall, ToolCall: call}
		}
		events <- Event{Type: EventDone}
	}()

	return events, nil
}

// toolCallAccumulator assembles streamed tool call fragments keyed by index.
type toolCallAccumulator struct {
	order []int
	calls map[int]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingCall)}
}

// feed ingests delta fragments and returns the calls that just started.
func (a *toolCallAccumulator) feed(deltas []openai.ToolCall) []*ToolCall {
	var started []*ToolCall
	for _, d := range deltas {
		idx := 0
		if d.Index != nil {
			idx = *d.Index
		}
		call, ok := a.calls[idx]
		if !ok {
			call = &pendingCall{}
			a.calls[idx] = call
			a.order = append(a.order, idx)
		}
		if d.ID != "" {
			call.id = d.ID
		}
		if d.Function.Name != "" {
			firstSight := call.name == ""
			call.name += d.Function.Name
			if firstSight {
				started = append(started, &ToolCall{ID: call.id, Name: call.name})
			}
		}
		call.args.WriteString(d.Function.Arguments)
	}
	return started
}

// finalize returns all accumulated calls with their complete arguments,
// in the order the model emitted them.
func (a *toolCallAccumulator) finalize() []*ToolCall {
	out := make([]*ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		call := a.calls[idx]
		args := call.args.String()
		if args == "" {
			args = "{}"
		}
		out = append(out, &ToolCall{
			ID:   call.id,
			Name: call.name,
			Args: json.RawMessage(args),
		})
	}
	return out
}

// convertMessages maps turn messages to the OpenAI wire format, replaying
// tool calls and their results so follow-up rounds have full context.
func convertMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		if m.ToolResult != nil {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: m.ToolResult.CallID,
				Content:    string(m.ToolResult.Output),
			})
			continue
		}

		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Text,
		}
		for _, call := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Args),
				},
			})
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// GenerateTitle produces a short conversation title from the first user
// message.
func (p *OpenAIProvider) GenerateTitle(ctx context.Context, userMessage string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.titleModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "Summarize the user's message into a short, clear title. " +
					"Four words or fewer, under 50 characters, no quotation marks or colons. " +
					"Return only the title text.",
			},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generating title: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no title returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
