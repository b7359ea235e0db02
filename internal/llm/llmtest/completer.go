// Package llmtest provides a scripted llm.Completer for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ppiankov/evidencegate/internal/llm"
)

// Completer replays canned JSON per stage. The last response for a stage repeats.
type Completer struct {
	mu        sync.Mutex
	responses map[string][]string
	errs      map[string]error
	calls     []llm.CompletionRequest

	// Handler, when set, answers every call instead of the scripted responses
	Handler func(req llm.CompletionRequest) (string, error)
}

// New returns an empty scripted completer
func New() *Completer {
	return &Completer{
		responses: make(map[string][]string),
		errs:      make(map[string]error),
	}
}

// On queues raw responses for a stage
func (c *Completer) On(stage string, raw ...string) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[stage] = append(c.responses[stage], raw...)
	return c
}

// Fail makes every call for a stage return err
func (c *Completer) Fail(stage string, err error) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[stage] = err
	return c
}

// Calls returns the requests seen so far
func (c *Completer) Calls() []llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.CompletionRequest(nil), c.calls...)
}

// CallCount returns how many calls were made for a stage
func (c *Completer) CallCount(stage string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Stage == stage {
			n++
		}
	}
	return n
}

// CompleteJSON implements llm.Completer
func (c *Completer) CompleteJSON(ctx context.Context, req llm.CompletionRequest, out any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.calls = append(c.calls, req)
	handler := c.Handler
	var (
		raw string
		err error
	)
	if handler == nil {
		if e, ok := c.errs[req.Stage]; ok {
			err = e
		} else if queue := c.responses[req.Stage]; len(queue) > 0 {
			raw = queue[0]
			if len(queue) > 1 {
				c.responses[req.Stage] = queue[1:]
			}
		} else {
			err = fmt.Errorf("llmtest: no response scripted for stage %q", req.Stage)
		}
	}
	c.mu.Unlock()

	if handler != nil {
		raw, err = handler(req)
	}
	if err != nil {
		return "", err
	}
	if err := llm.DecodeJSON(raw, out); err != nil {
		return raw, err
	}
	return raw, nil
}
