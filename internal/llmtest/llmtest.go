// Package llmtest is a recorded-fixture double for common/llm.Client and
// common/llm.Embedder, per spec §9's "Non-determinism" note: requests are
// answered deterministically from a table keyed by Request.SchemaName
// rather than placing a live call, so property tests covering the
// repair loop and the cognitive inference engine's retry/fallback paths
// reproduce exactly on every run. Generalizes the inline scriptedClient
// doubles duplicated across internal/inference, internal/pipeline and
// internal/planner's own test files into one importable double.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"devmatrix.dev/core/common/llm"
)

// Fixture is one recorded response for a given schema name. Exactly one of
// Payload or Err should be set; Err takes precedence when both are present,
// letting a test script a transient failure without clearing a payload
// already registered for the happy-path case.
type Fixture struct {
	Payload any
	Err     error
}

// Client answers Chat calls by SchemaName from a table of registered
// fixtures. Each schema name keeps its own queue: repeated calls consume
// fixtures in registration order, and the last registered fixture for a
// schema repeats once its queue is exhausted — so a test can register one
// fixture for "every call returns X" or several for "fail twice then
// succeed" without special-casing either.
type Client struct {
	mu       sync.Mutex
	model    string
	queues   map[string][]Fixture
	calls    []llm.Request
	onCalled func(llm.Request)
}

// NewClient builds an empty recorded-fixture Client. Register fixtures with
// Record/RecordSequence before exercising code that calls Chat.
func NewClient(model string) *Client {
	if model == "" {
		model = "llmtest"
	}
	return &Client{model: model, queues: map[string][]Fixture{}}
}

// Record registers a single fixture a schema's every call replays.
func (c *Client) Record(schemaName string, payload any) *Client {
	return c.RecordSequence(schemaName, Fixture{Payload: payload})
}

// RecordError registers a fixture that fails every call for a schema.
func (c *Client) RecordError(schemaName string, err error) *Client {
	return c.RecordSequence(schemaName, Fixture{Err: err})
}

// RecordSequence registers an ordered queue of fixtures for a schema; each
// Chat call for that schema consumes the next entry, repeating the last
// entry once the queue is drained.
func (c *Client) RecordSequence(schemaName string, fixtures ...Fixture) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[schemaName] = append(c.queues[schemaName], fixtures...)
	return c
}

// OnCall installs a hook invoked with each request before it is answered,
// useful for assertions on prompt content without a separate spy type.
func (c *Client) OnCall(fn func(llm.Request)) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCalled = fn
	return c
}

func (c *Client) Model() string { return c.model }

// Calls returns every request answered so far, in order.
func (c *Client) Calls() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *Client) Chat(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	hook := c.onCalled
	queue := c.queues[req.SchemaName]
	var fixture Fixture
	switch {
	case len(queue) == 0:
		c.mu.Unlock()
		return nil, fmt.Errorf("llmtest: no fixture registered for schema %q", req.SchemaName)
	case len(queue) == 1:
		fixture = queue[0]
	default:
		fixture = queue[0]
		c.queues[req.SchemaName] = queue[1:]
	}
	c.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	if fixture.Err != nil {
		return nil, fixture.Err
	}

	raw, err := json.Marshal(fixture.Payload)
	if err != nil {
		return nil, fmt.Errorf("llmtest: marshal fixture for schema %q: %w", req.SchemaName, err)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("llmtest: unmarshal fixture into result for schema %q: %w", req.SchemaName, err)
	}
	return &llm.Response{PromptTokens: len(req.SystemPrompt) + len(req.UserPrompt)}, nil
}

// Embedder is a deterministic Embedder double: the same text always maps to
// the same vector, derived from an FNV hash of the text rather than a
// registered table, since embedding fixtures would otherwise need one entry
// per distinct prompt the synthesis/atomization paths ever construct.
type Embedder struct {
	dims int
}

// NewEmbedder builds a deterministic Embedder producing vectors of dims
// dimensions.
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = 8
	}
	return &Embedder{dims: dims}
}

func (e *Embedder) Dimensions() int { return e.dims }

func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	h := fnv32(text)
	for i := range vec {
		h = h*16777619 ^ uint32(i)
		vec[i] = float32(h%1000) / 1000.0
	}
	return vec, nil
}

func fnv32(s string) uint32 {
	const offset32 = 2166136261
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
