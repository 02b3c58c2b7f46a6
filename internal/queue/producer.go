package queue

import (
	"context"
	"fmt"
	"log/slog"

	"devmatrix.dev/core/common/logger"
	"github.com/redis/go-redis/v9"
)

// RunRequestMessage is a run submission enqueued by the ops API for the
// worker to pick up (spec §12.2).
type RunRequestMessage struct {
	RunID       string
	SpecText    string
	Stack       string
	GroundTruth string
	TraceID     *string
	Attempt     int
}

type Producer interface {
	Enqueue(ctx context.Context, msg RunRequestMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{
		client: client,
		stream: stream,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg RunRequestMessage) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RunID:     &msg.RunID,
		Component: "devmatrix.queue.producer",
	})

	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"task_type": string(TaskTypeRunRequest),
		"run_id":    msg.RunID,
		"spec_text": msg.SpecText,
		"attempt":   attempt,
	}
	if msg.Stack != "" {
		fields["stack"] = msg.Stack
	}
	if msg.GroundTruth != "" {
		fields["ground_truth"] = msg.GroundTruth
	}

	traceIDStr := ""
	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
		traceIDStr = *msg.TraceID
	}

	// TODO(queue): add MAXLEN to prevent the stream growing unbounded.
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue run request (stream=%s): %w", p.stream, err)
	}

	slog.InfoContext(ctx, "enqueued run request",
		"run_id", msg.RunID,
		"attempt", attempt,
		"trace_id", traceIDStr,
		"stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
