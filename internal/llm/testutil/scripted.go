// Package testutil provides a scripted text generator for tests that exercise
// generation fallbacks without a model endpoint.
package testutil

import (
	"context"
	"sync"
	"time"
)

// ScriptedGenerator is a thread-safe llm.TextGenerator for tests. It returns
// Responses in order, repeating the last one once exhausted.
//
// Usage:
//
//	gen := &ScriptedGenerator{Responses: []string{`{"next7Days": []}`}}
//	gen := &ScriptedGenerator{Err: errors.New("connection failed")}
//	gen := &ScriptedGenerator{Delay: time.Minute} // trips the caller's timeout
type ScriptedGenerator struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	// Delay blocks each call until it elapses or the context is done.
	Delay time.Duration

	prompts []string
	index   int
}

// GenerateText implements llm.TextGenerator.
func (g *ScriptedGenerator) GenerateText(ctx context.Context, prompt string, _ int, _ float64) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	delay := g.Delay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Err != nil {
		return "", g.Err
	}
	if len(g.Responses) == 0 {
		return "", nil
	}
	resp := g.Responses[min(g.index, len(g.Responses)-1)]
	g.index++
	return resp, nil
}

// CallCount returns the number of GenerateText calls.
func (g *ScriptedGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// LastPrompt returns the most recent prompt, or "" if none.
func (g *ScriptedGenerator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}
