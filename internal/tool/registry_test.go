// ABOUTME: Tests for the tool registry and bounded execution contract
// ABOUTME: Covers error-to-result conversion, single retry, and tool selection

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool is a scriptable executor for registry tests.
type fakeTool struct {
	name    string
	results []func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
	calls   int
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "fake" }
func (f *fakeTool) Parameters() json.RawMessage { return json.RawMessage(`{}`) }

func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx](ctx, args)
}

func succeed(payload string) func(context.Context, json.RawMessage) (json.RawMessage, error) {
	return func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(payload), nil
	}
}

func fail(msg string) func(context.Context, json.RawMessage) (json.RawMessage, error) {
	return func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New(msg)
	}
}

func TestRegistry_ExecuteSuccess(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	ft := &fakeTool{name: NameGetWeather, results: []func(context.Context, json.RawMessage) (json.RawMessage, error){succeed(`{"temp":18}`)}}
	r.Register(ft)

	result := r.Execute(t.Context(), NameGetWeather, nil)
	assert.JSONEq(t, `{"temp":18}`, string(result))
	assert.Equal(t, 1, ft.calls)
}

func TestRegistry_FailureBecomesErrorResult(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	r.Register(&fakeTool{name: NameWebSearch, results: []func(context.Context, json.RawMessage) (json.RawMessage, error){fail("network down")}})

	result := r.Execute(t.Context(), NameWebSearch, json.RawMessage(`{"query":"x"}`))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(result, &payload))
	assert.Equal(t, true, payload["error"])
	assert.Contains(t, payload["message"], "network down")
}

func TestRegistry_RetriesExactlyOnce(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	ft := &fakeTool{name: NameWebSearch, results: []func(context.Context, json.RawMessage) (json.RawMessage, error){
		fail("transient"),
		succeed(`{"results":[]}`),
	}}
	r.Register(ft)

	result := r.Execute(t.Context(), NameWebSearch, nil)
	assert.JSONEq(t, `{"results":[]}`, string(result))
	assert.Equal(t, 2, ft.calls)
}

func TestRegistry_NoUnboundedRetries(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	ft := &fakeTool{name: NameWebSearch, results: []func(context.Context, json.RawMessage) (json.RawMessage, error){fail("persistent")}}
	r.Register(ft)

	result := r.Execute(t.Context(), NameWebSearch, nil)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(result, &payload))
	assert.Equal(t, true, payload["error"])
	assert.Equal(t, 2, ft.calls, "exactly one retry, never more")
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	result := r.Execute(t.Context(), "no-such-tool", nil)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(result, &payload))
	assert.Equal(t, true, payload["error"])
}

func TestRegistry_Subset(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	r.Register(&fakeTool{name: NameGetWeather, results: []func(context.Context, json.RawMessage) (json.RawMessage, error){succeed(`{}`)}})
	r.Register(&fakeTool{name: NameWebSearch, results: []func(context.Context, json.RawMessage) (json.RawMessage, error){succeed(`{}`)}})

	sub := r.Subset([]string{NameGetWeather, "bogus"})
	assert.ElementsMatch(t, []string{NameGetWeather}, sub.Names())

	// Empty selection keeps everything
	assert.Len(t, r.Subset(nil).Names(), 2)
}
