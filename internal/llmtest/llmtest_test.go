package llmtest_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/common/llm"
	"devmatrix.dev/core/internal/llmtest"
)

type payload struct {
	Value string `json:"value"`
}

func TestClient_RecordReplaysSameFixtureForEveryCall(t *testing.T) {
	client := llmtest.NewClient("fixture")
	client.Record("widget", payload{Value: "a"})

	for i := 0; i < 3; i++ {
		var out payload
		_, err := client.Chat(context.Background(), llm.Request{SchemaName: "widget"}, &out)
		require.NoError(t, err)
		require.Equal(t, "a", out.Value)
	}
	require.Len(t, client.Calls(), 3)
}

func TestClient_RecordSequenceConsumesInOrderThenRepeatsLast(t *testing.T) {
	client := llmtest.NewClient("fixture")
	client.RecordSequence("widget",
		llmtest.Fixture{Err: errors.New("transient")},
		llmtest.Fixture{Payload: payload{Value: "recovered"}},
	)

	var out payload
	_, err := client.Chat(context.Background(), llm.Request{SchemaName: "widget"}, &out)
	require.Error(t, err)

	_, err = client.Chat(context.Background(), llm.Request{SchemaName: "widget"}, &out)
	require.NoError(t, err)
	require.Equal(t, "recovered", out.Value)

	// Queue is exhausted; the last fixture keeps replaying.
	_, err = client.Chat(context.Background(), llm.Request{SchemaName: "widget"}, &out)
	require.NoError(t, err)
	require.Equal(t, "recovered", out.Value)
}

func TestClient_UnregisteredSchemaErrors(t *testing.T) {
	client := llmtest.NewClient("fixture")
	var out payload
	_, err := client.Chat(context.Background(), llm.Request{SchemaName: "missing"}, &out)
	require.Error(t, err)
}

func TestClient_OnCallHookObservesRequest(t *testing.T) {
	client := llmtest.NewClient("fixture")
	client.Record("widget", payload{Value: "a"})

	var seen string
	client.OnCall(func(req llm.Request) { seen = req.UserPrompt })

	var out payload
	_, err := client.Chat(context.Background(), llm.Request{SchemaName: "widget", UserPrompt: "hello"}, &out)
	require.NoError(t, err)
	require.Equal(t, "hello", seen)
}

func TestEmbedder_DeterministicPerText(t *testing.T) {
	embedder := llmtest.NewEmbedder(4)
	require.Equal(t, 4, embedder.Dimensions())

	v1, err := embedder.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := embedder.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v3, err := embedder.Embed(context.Background(), "something else")
	require.NoError(t, err)

	require.Equal(t, v1, v2)
	require.NotEqual(t, v1, v3)
	require.Len(t, v1, 4)
}
