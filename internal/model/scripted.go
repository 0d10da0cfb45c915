// ABOUTME: Scripted in-memory provider for tests and local development
// ABOUTME: Replays canned event rounds without touching a real model API

package model

import (
	"context"
	"sync"
)

// ScriptedProvider replays pre-written event rounds. Each call to Stream
// consumes the next round; the last round is repeated once exhausted.
// It also records the requests it received for assertions.
type ScriptedProvider struct {
	mu       sync.Mutex
	rounds   [][]Event
	next     int
	title    string
	requests []Request

	// StreamErr, when set, makes Stream fail outright.
	StreamErr error
}

// NewScriptedProvider creates a provider that replays the given rounds.
func NewScriptedProvider(rounds ...[]Event) *ScriptedProvider {
	return &ScriptedProvider{rounds: rounds, title: "Scripted chat"}
}

// SetTitle sets the canned title returned by GenerateTitle.
func (p *ScriptedProvider) SetTitle(title string) { p.title = title }

// Requests returns a copy of the requests Stream has received.
func (p *ScriptedProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Stream replays the next scripted round.
func (p *ScriptedProvider) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	p.mu.Lock()
	if p.StreamErr != nil {
		p.mu.Unlock()
		return nil, p.StreamErr
	}
	p.requests = append(p.requests, req)

	var round []Event
	if len(p.rounds) > 0 {
		idx := p.next
		if idx >= len(p.rounds) {
			idx = len(p.rounds) - 1
		}
		round = p.rounds[idx]
		p.next++
	}
	p.mu.Unlock()

	events := make(chan Event)
	go func() {
		defer close(events)
		for _, ev := range round {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// GenerateTitle returns the canned title.
func (p *ScriptedProvider) GenerateTitle(ctx context.Context, userMessage string) (string, error) {
	return p.title, nil
}
