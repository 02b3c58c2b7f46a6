// Command devmatrix-worker reads run submissions off the Redis stream and
// drives each one through internal/pipeline. Grounded on the teacher's
// cmd/worker/main.go: OTel before logger, snowflake id.Init, a consumer +
// reclaimer pair running as separate goroutines, processMessageSafe's
// panic-recovery wrapper, and handleFailure's retryable/DLQ routing.
// Repo-cloning preflight checks (git/ssh/rg on PATH) are teacher-specific
// and dropped: this worker never touches a filesystem checkout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"devmatrix.dev/core/common/id"
	"devmatrix.dev/core/common/llm"
	"devmatrix.dev/core/common/logger"
	"devmatrix.dev/core/common/otel"
	"devmatrix.dev/core/core/config"
	coredb "devmatrix.dev/core/core/db"
	"devmatrix.dev/core/internal/atomizer"
	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/embedcache"
	"devmatrix.dev/core/internal/graphstore"
	"devmatrix.dev/core/internal/inference"
	"devmatrix.dev/core/internal/learning"
	"devmatrix.dev/core/internal/metrics"
	"devmatrix.dev/core/internal/patternstore"
	"devmatrix.dev/core/internal/pipeline"
	"devmatrix.dev/core/internal/planner"
	"devmatrix.dev/core/internal/queue"
	"devmatrix.dev/core/internal/repair"
	"devmatrix.dev/core/internal/specparser"
	"devmatrix.dev/core/internal/store"
	"devmatrix.dev/core/internal/validation"

	"github.com/prometheus/client_golang/prometheus"
)

const reclaimMinIdle = 5 * time.Minute
const reclaimInterval = time.Minute

func main() {
	ctx := context.Background()
	cfg := config.Load()

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otel setup failed: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "snowflake id init failed", "error", err)
		os.Exit(1)
	}

	database, err := coredb.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "database connection failed", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "redis connection failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	deps, err := buildPipelineDeps(ctx, cfg, database, redisClient)
	if err != nil {
		slog.ErrorContext(ctx, "pipeline dependency wiring failed", "error", err)
		os.Exit(1)
	}
	pl := pipeline.New(deps)
	runs := store.NewRunStore(database)

	consumerCfg := queue.ConsumerConfig{
		Stream:      cfg.Queue.Stream,
		Group:       cfg.Queue.Group,
		Consumer:    cfg.Queue.Consumer,
		DLQStream:   cfg.Queue.DLQStream,
		BatchSize:   cfg.Queue.BatchSize,
		Block:       cfg.Queue.Block,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}
	consumer, err := queue.NewRedisConsumer(redisClient, consumerCfg)
	if err != nil {
		slog.ErrorContext(ctx, "queue consumer setup failed", "error", err)
		os.Exit(1)
	}

	processor := newMessageProcessor(pl, runs)

	reclaimer := queue.NewReclaimer(redisClient, queue.ReclaimerConfig{
		Stream:    cfg.Queue.Stream,
		Group:     cfg.Queue.Group,
		Consumer:  cfg.Queue.Consumer,
		MinIdle:   reclaimMinIdle,
		Interval:  reclaimInterval,
		BatchSize: cfg.Queue.BatchSize,
	}, consumer, processor)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reclaimer.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runLoop(runCtx, consumer, processor, cfg.Queue.MaxAttempts)
	}()

	slog.InfoContext(ctx, "devmatrix worker started", "stream", cfg.Queue.Stream, "consumer", cfg.Queue.Consumer)

	<-runCtx.Done()
	slog.InfoContext(ctx, "shutdown signal received, draining")

	reclaimer.Stop()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}
	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func runLoop(ctx context.Context, consumer *queue.RedisConsumer, processor queue.MessageProcessor, maxAttempts int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(ctx, "consumer read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			processMessageSafe(ctx, msg, processor, consumer, maxAttempts)
		}
	}
}

// processMessageSafe wraps one message's processing with panic recovery so
// a single bad run never kills the worker's main loop.
func processMessageSafe(ctx context.Context, msg queue.Message, processor queue.MessageProcessor, consumer *queue.RedisConsumer, maxAttempts int) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{RunID: logger.Ptr(msg.RunID), Component: "devmatrix.worker"})

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic while processing message, sending to DLQ", "panic", r, "run_id", msg.RunID)
			_ = consumer.SendDLQ(ctx, msg, fmt.Sprintf("panic: %v", r))
		}
	}()

	start := time.Now()
	err := processor(ctx, msg)
	duration := time.Since(start)

	if err != nil {
		handleFailure(ctx, consumer, msg, maxAttempts, err)
		return
	}

	if ackErr := consumer.Ack(ctx, msg); ackErr != nil {
		slog.ErrorContext(ctx, "failed to ack processed message", "error", ackErr, "run_id", msg.RunID)
	}
	slog.InfoContext(ctx, "run processed", "run_id", msg.RunID, "duration_ms", duration.Milliseconds())
}

func handleFailure(ctx context.Context, consumer *queue.RedisConsumer, msg queue.Message, maxAttempts int, err error) {
	retryable := domain.IsRetryable(err)

	if retryable && msg.Attempt < maxAttempts {
		if reqErr := consumer.Requeue(ctx, msg, err.Error()); reqErr != nil {
			slog.ErrorContext(ctx, "failed to requeue message", "error", reqErr, "run_id", msg.RunID)
		}
		return
	}

	if dlqErr := consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
		slog.ErrorContext(ctx, "failed to send message to DLQ", "error", dlqErr, "run_id", msg.RunID)
	}
}

// newMessageProcessor closes over the pipeline and run store, producing the
// queue.MessageProcessor both the main loop and the reclaimer invoke.
func newMessageProcessor(pl *pipeline.Pipeline, runs store.RunStore) queue.MessageProcessor {
	return func(ctx context.Context, msg queue.Message) error {
		run := domain.RunContext{
			RunID:     msg.RunID,
			CreatedAt: time.Now(),
		}

		run.Spec = domain.SpecDocument{
			Sections: specparser.SplitSections(msg.SpecText),
			RawText:  msg.SpecText,
		}

		if msg.Stack != "" {
			if err := json.Unmarshal([]byte(msg.Stack), &run.Stack); err != nil {
				return domain.NewFatalError(domain.ErrorStructuredParse, fmt.Errorf("parsing stack descriptor: %w", err))
			}
		}
		if msg.GroundTruth != "" {
			var gt domain.GroundTruth
			if err := json.Unmarshal([]byte(msg.GroundTruth), &gt); err != nil {
				return domain.NewFatalError(domain.ErrorStructuredParse, fmt.Errorf("parsing ground truth: %w", err))
			}
			run.GroundTruth = &gt
		}

		if err := runs.Create(ctx, run); err != nil {
			slog.WarnContext(ctx, "failed to record run start", "run_id", run.RunID, "error", err)
		}

		sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "pipeline.run")
		files, report := pl.Run(sc.Context(), run)
		if report.Status == domain.RunStatusFailed {
			sc.RecordError(fmt.Errorf("run %s failed at phase %s", run.RunID, report.FailingPhase))
		}
		sc.End()

		persisted := files
		if report.Status == domain.RunStatusCancelled {
			// Scenario F: a cancelled run's partial file map is discarded,
			// not persisted. The status itself is still recorded.
			persisted = domain.FileMap{}
		}
		if err := runs.Complete(ctx, run.RunID, report, persisted); err != nil {
			slog.WarnContext(ctx, "failed to record run completion", "run_id", run.RunID, "error", err)
		}

		if report.Status == domain.RunStatusFailed {
			// The pipeline already exhausted its own repair loop; a queue-level
			// retry would just repeat the same failure, so this is fatal.
			return domain.NewFatalError(domain.ErrorInvariant,
				fmt.Errorf("run %s failed at phase %s", run.RunID, report.FailingPhase))
		}
		return nil
	}
}

// buildPipelineDeps wires C1-C11 from cfg: the LLM provider named by
// cfg.Provider backs the Planner and the Inference Engine; the Pattern
// Store's vector index is Typesense when configured, in-memory otherwise;
// ArangoDB DAG persistence is opt-in via cfg.Arango.Enabled().
func buildPipelineDeps(ctx context.Context, cfg config.Config, database *coredb.DB, redisClient *redis.Client) (pipeline.Deps, error) {
	llmCfg := cfg.Anthropic
	if cfg.Provider == "openai" {
		llmCfg = cfg.OpenAI
	}

	chatClient, err := llm.New(llmCfg)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("llm client: %w", err)
	}

	embedder, err := llm.NewEmbedder(cfg.OpenAI)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("embedder: %w", err)
	}

	embedCache, err := embedcache.New(embedder, 10_000, redisClient)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("embed cache: %w", err)
	}

	synthesisCache, err := inference.NewLRUCache(10_000)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("synthesis cache: %w", err)
	}

	vectorIndex, err := buildVectorIndex(ctx, cfg)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("vector index: %w", err)
	}

	metaStore := patternstore.NewPGMetadataStore(database.Pool())
	patterns := patternstore.New(vectorIndex, metaStore, embedder)

	engine := inference.New(chatClient, patterns, synthesisCache)

	var graphPersister pipeline.GraphPersister
	if cfg.Arango.Enabled() {
		gs, err := graphstore.New(graphstore.Config{
			URL:      cfg.Arango.Endpoint,
			Username: cfg.Arango.User,
			Password: cfg.Arango.Password,
			Database: cfg.Arango.Database,
		})
		if err != nil {
			slog.WarnContext(ctx, "graphstore disabled: connection setup failed", "error", err)
		} else if err := gs.EnsureSchema(ctx); err != nil {
			slog.WarnContext(ctx, "graphstore disabled: schema setup failed", "error", err)
		} else {
			graphPersister = gs
		}
	}

	return pipeline.Deps{
		SpecParser: specparser.New(),
		Validation: validation.NewExtractor(validation.LLMStage{Client: chatClient}),
		Planner:    planner.Planner{Client: chatClient},
		Atomizer:   atomizer.Atomizer{Embedder: embedCache},
		Inference:  engine,
		Repair:     repair.New(engine),
		Learning:   learning.New(patterns),
		Metrics:    metrics.NewRecorder(prometheus.DefaultRegisterer),
		GraphStore: graphPersister,
	}, nil
}

func buildVectorIndex(ctx context.Context, cfg config.Config) (patternstore.VectorIndex, error) {
	if cfg.Typesense.URL == "" {
		return patternstore.NewInMemoryIndex(), nil
	}
	return patternstore.NewTypesenseIndex(ctx, cfg.Typesense.URL, cfg.Typesense.APIKey, 1536)
}
