package inference_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/common/llm"
	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/inference"
)

// scriptedClient is an llm.Client test double that answers each call
// according to the request's SchemaName, so a full strategy ->
// implementation -> refinement round can run without a live provider.
type scriptedClient struct {
	failUntil int // calls before this index return an error
	calls     int
}

func (c *scriptedClient) Model() string { return "scripted" }

func (c *scriptedClient) Chat(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
	c.calls++
	if c.calls <= c.failUntil {
		return nil, errors.New("simulated transient failure")
	}

	var payload []byte
	switch req.SchemaName {
	case "strategy":
		payload, _ = json.Marshal(inference.Strategy{Summary: "sketch", Steps: []string{"step1"}})
	case "implementation":
		payload, _ = json.Marshal(inference.Implementation{Source: "func Handle() {}"})
	case "refinement":
		payload, _ = json.Marshal(inference.Refinement{Source: "func Handle() {}"})
	default:
		return nil, errors.New("unknown schema " + req.SchemaName)
	}
	if err := json.Unmarshal(payload, result); err != nil {
		return nil, err
	}
	return &llm.Response{}, nil
}

func TestSynthesize_HappyPathCachesResult(t *testing.T) {
	client := &scriptedClient{}
	cache, err := inference.NewLRUCache(8)
	require.NoError(t, err)

	engine := inference.New(client, nil, cache)
	run := domain.RunContext{Stack: domain.StackDescriptor{HTTPFramework: "gin", ORM: "gorm", Serialization: "json"}}
	task := domain.AtomicTask{ID: "t1", LineBudget: 10}
	sig := domain.SemanticSignature{Hash: 123, Domain: "billing"}

	source, err := engine.Synthesize(context.Background(), run, task, sig)
	require.NoError(t, err)
	require.Equal(t, "func Handle() {}", source)

	callsAfterFirst := client.calls
	source2, err := engine.Synthesize(context.Background(), run, task, sig)
	require.NoError(t, err)
	require.Equal(t, source, source2)
	require.Equal(t, callsAfterFirst, client.calls, "second call should be served from cache without invoking the LLM")
}

func TestSynthesize_RetriesTransientFailures(t *testing.T) {
	client := &scriptedClient{failUntil: 1}
	cache, err := inference.NewLRUCache(8)
	require.NoError(t, err)

	engine := inference.New(client, nil, cache)
	run := domain.RunContext{Stack: domain.StackDescriptor{HTTPFramework: "gin"}}
	task := domain.AtomicTask{ID: "t1", LineBudget: 10}
	sig := domain.SemanticSignature{Hash: 456, Domain: "billing"}

	source, err := engine.Synthesize(context.Background(), run, task, sig)
	require.NoError(t, err)
	require.Equal(t, "func Handle() {}", source)
}

func TestCacheKey_StableForSamePair(t *testing.T) {
	stack := domain.StackDescriptor{HTTPFramework: "gin", ORM: "gorm", Serialization: "json"}
	k1 := inference.CacheKey(42, stack)
	k2 := inference.CacheKey(42, stack)
	require.Equal(t, k1, k2)

	k3 := inference.CacheKey(42, domain.StackDescriptor{HTTPFramework: "echo"})
	require.NotEqual(t, k1, k3)
}
