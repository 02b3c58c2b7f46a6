package queue

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestParseMessage_RoundTripsMessageValues(t *testing.T) {
	msg := Message{
		RunID:       "run-1",
		SpecText:    "# spec",
		Stack:       `{"http_framework":"gin"}`,
		GroundTruth: `{"entity_names":["Widget"]}`,
		TraceID:     "trace-1",
	}

	values := messageValues(msg, 2)
	raw := redis.XMessage{ID: "123-0", Values: values}

	parsed, err := ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, TaskTypeRunRequest, parsed.TaskType)
	require.Equal(t, msg.RunID, parsed.RunID)
	require.Equal(t, msg.SpecText, parsed.SpecText)
	require.Equal(t, msg.Stack, parsed.Stack)
	require.Equal(t, msg.GroundTruth, parsed.GroundTruth)
	require.Equal(t, msg.TraceID, parsed.TraceID)
	require.Equal(t, 2, parsed.Attempt)
}

func TestParseMessage_DefaultsAttemptToOne(t *testing.T) {
	raw := redis.XMessage{
		ID: "123-0",
		Values: map[string]any{
			"run_id":    "run-1",
			"spec_text": "# spec",
		},
	}

	parsed, err := ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, 1, parsed.Attempt)
	require.Equal(t, TaskTypeRunRequest, parsed.TaskType)
}

func TestParseMessage_MissingRunIDFails(t *testing.T) {
	raw := redis.XMessage{
		ID:     "123-0",
		Values: map[string]any{"spec_text": "# spec"},
	}

	_, err := ParseMessage(raw)
	require.Error(t, err)
}

func TestParseMessage_RejectsUnknownTaskType(t *testing.T) {
	raw := redis.XMessage{
		ID: "123-0",
		Values: map[string]any{
			"run_id":    "run-1",
			"spec_text": "# spec",
			"task_type": "repo_sync",
		},
	}

	_, err := ParseMessage(raw)
	require.Error(t, err)
}

func TestStreamNames(t *testing.T) {
	require.Equal(t, "devmatrix:runs", RunStreamName())
	require.Equal(t, "devmatrix:runs:dlq", RunDLQStreamName())
}
