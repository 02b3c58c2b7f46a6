package queue

import "fmt"

// TaskType names the kind of work carried on the stream. The Core's queue
// only ever carries run submissions (spec §12.2); the type is kept as a
// named family rather than collapsed to a bool so a future task kind (e.g.
// a standalone repair-only run) has somewhere to go.
type TaskType string

const (
	TaskTypeRunRequest TaskType = "run_request"
)

// Task describes a queued run request before it is serialized onto the
// stream.
type Task struct {
	TaskType    TaskType
	RunID       string
	SpecText    string
	Stack       string // JSON-encoded domain.StackDescriptor
	GroundTruth string // JSON-encoded domain.GroundTruth; empty if none (best-effort run)
	TraceID     *string
	Attempt     int
}

// RunStreamName returns the Redis stream name run requests are enqueued on.
func RunStreamName() string {
	return "devmatrix:runs"
}

// RunDLQStreamName returns the dead-letter stream for run requests that
// exhausted their retry budget.
func RunDLQStreamName() string {
	return fmt.Sprintf("%s:dlq", RunStreamName())
}
