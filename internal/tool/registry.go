// ABOUTME: Static registry of executable tools keyed by name
// ABOUTME: Execution is bounded: one retry at most, failures become error results

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrToolNotFound is returned when a tool name is not registered.
var ErrToolNotFound = errors.New("tool not found")

// Builtin tool names. New tools are added here and registered statically,
// never matched ad hoc.
const (
	NameGetWeather    = "getWeatherTool"
	NameWebSearch     = "webSearchTool"
	NameGenerateImage = "generateImageTool"
)

// Executor is an opaque async tool function with a bounded-failure
// contract: it either returns a result payload or an error.
type Executor interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Registry holds the tools available to generation sessions.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Executor
	logger *slog.Logger

	// timeout bounds a single execution attempt.
	timeout time.Duration
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Registry{
		tools:   make(map[string]Executor),
		logger:  logger.With("component", "tools"),
		timeout: timeout,
	}
}

// Register adds a tool. Registering the same name twice replaces the
// earlier entry.
func (r *Registry) Register(t Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the executor for a tool name.
func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Subset returns a registry restricted to the given names. Unknown names
// are skipped. An empty selection returns the registry unchanged.
func (r *Registry) Subset(names []string) *Registry {
	if len(names) == 0 {
		return r
	}
	sub := NewRegistry(r.timeout, r.logger)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			sub.tools[name] = t
		}
	}
	return sub
}

// Execute runs a tool and always returns a result payload. Execution
// failures are converted into an error payload rather than propagated,
// so one failing tool never aborts the surrounding session. A failed
// attempt is retried exactly once.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) json.RawMessage {
	t, ok := r.Get(name)
	if !ok {
		r.logger.Warn("tool not registered", "tool", name)
		return ErrorResult(fmt.Errorf("%w: %s", ErrToolNotFound, name))
	}

	result, err := r.attempt(ctx, t, args)
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("tool execution failed, retrying once",
			"tool", name,
			"error", err)
		result, err = r.attempt(ctx, t, args)
	}
	if err != nil {
		r.logger.Error("tool execution failed",
			"tool", name,
			"error", err)
		return ErrorResult(err)
	}
	return result
}

// attempt runs a single bounded execution.
func (r *Registry) attempt(ctx context.Context, t Executor, args json.RawMessage) (json.RawMessage, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return t.Execute(execCtx, args)
}
