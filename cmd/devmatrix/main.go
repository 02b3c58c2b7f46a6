// Command devmatrix runs a single pipeline invocation end-to-end without
// the Redis queue: it reads a spec file (plus optional stack/ground-truth
// JSON siblings) from disk, drives internal/pipeline directly, and writes
// the resulting FileMap to an output directory. Grounded on the teacher's
// cmd/explore, which likewise wires one LLM client and a handful of env
// vars into a single foreground run rather than a long-lived server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"devmatrix.dev/core/common/id"
	"devmatrix.dev/core/common/llm"
	"devmatrix.dev/core/common/logger"
	"devmatrix.dev/core/core/config"
	coredb "devmatrix.dev/core/core/db"
	"devmatrix.dev/core/internal/atomizer"
	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/embedcache"
	"devmatrix.dev/core/internal/inference"
	"devmatrix.dev/core/internal/learning"
	"devmatrix.dev/core/internal/metrics"
	"devmatrix.dev/core/internal/patternstore"
	"devmatrix.dev/core/internal/pipeline"
	"devmatrix.dev/core/internal/planner"
	"devmatrix.dev/core/internal/repair"
	"devmatrix.dev/core/internal/specparser"
	"devmatrix.dev/core/internal/validation"
)

func main() {
	specPath := flag.String("spec", "", "path to the spec markdown file (required)")
	stackPath := flag.String("stack", "", "path to a StackDescriptor JSON file (optional)")
	groundTruthPath := flag.String("ground-truth", "", "path to a GroundTruth JSON file (optional)")
	outDir := flag.String("out", "./out", "directory to write generated files into")
	flag.Parse()

	if *specPath == "" {
		fmt.Fprintln(os.Stderr, "-spec is required")
		os.Exit(1)
	}

	ctx := context.Background()
	cfg := config.Load()
	logger.Setup(cfg)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "snowflake id init failed", "error", err)
		os.Exit(1)
	}

	run, err := buildRunContext(*specPath, *stackPath, *groundTruthPath)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build run context", "error", err)
		os.Exit(1)
	}

	pl, err := buildPipeline(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "pipeline wiring failed", "error", err)
		os.Exit(1)
	}

	sc := logger.StartSpan(ctx, "pipeline.run")
	files, report := pl.Run(sc.Context(), run)
	sc.End()

	// Scenario F: a cancelled run's partial file map is never written to
	// disk, only its report.
	if report.Status != domain.RunStatusCancelled {
		if err := writeFiles(*outDir, files); err != nil {
			slog.ErrorContext(ctx, "failed to write generated files", "error", err)
			os.Exit(1)
		}
	}

	reportJSON, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(reportJSON))

	if report.Status == domain.RunStatusFailed {
		os.Exit(1)
	}
}

func buildRunContext(specPath, stackPath, groundTruthPath string) (domain.RunContext, error) {
	rawSpec, err := os.ReadFile(specPath)
	if err != nil {
		return domain.RunContext{}, fmt.Errorf("reading spec file: %w", err)
	}

	run := domain.RunContext{
		RunID: fmt.Sprintf("local-%d", id.New()),
		Spec: domain.SpecDocument{
			Sections: specparser.SplitSections(string(rawSpec)),
			RawText:  string(rawSpec),
		},
		CreatedAt: time.Now(),
	}

	if stackPath != "" {
		raw, err := os.ReadFile(stackPath)
		if err != nil {
			return domain.RunContext{}, fmt.Errorf("reading stack file: %w", err)
		}
		if err := json.Unmarshal(raw, &run.Stack); err != nil {
			return domain.RunContext{}, fmt.Errorf("parsing stack descriptor: %w", err)
		}
	}

	if groundTruthPath != "" {
		raw, err := os.ReadFile(groundTruthPath)
		if err != nil {
			return domain.RunContext{}, fmt.Errorf("reading ground truth file: %w", err)
		}
		var gt domain.GroundTruth
		if err := json.Unmarshal(raw, &gt); err != nil {
			return domain.RunContext{}, fmt.Errorf("parsing ground truth: %w", err)
		}
		run.GroundTruth = &gt
	}

	return run, nil
}

func writeFiles(outDir string, files domain.FileMap) error {
	for relPath, contents := range files {
		fullPath := filepath.Join(outDir, relPath)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", relPath, err)
		}
		if err := os.WriteFile(fullPath, contents, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", relPath, err)
		}
	}
	return nil
}

// buildPipeline wires the same C1-C11 components as devmatrix-worker, minus
// the Redis-stream and ArangoDB pieces a single foreground run has no use
// for: no queue to consume from, and a one-shot run's DAG is already on
// stdout via the RunReport, so persisting it separately buys nothing.
func buildPipeline(ctx context.Context, cfg config.Config) (*pipeline.Pipeline, error) {
	llmCfg := cfg.Anthropic
	if cfg.Provider == "openai" {
		llmCfg = cfg.OpenAI
	}

	chatClient, err := llm.New(llmCfg)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	embedder, err := llm.NewEmbedder(cfg.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	embedCache, err := embedcache.New(embedder, 10_000, nil)
	if err != nil {
		return nil, fmt.Errorf("embed cache: %w", err)
	}

	synthesisCache, err := inference.NewLRUCache(1_000)
	if err != nil {
		return nil, fmt.Errorf("synthesis cache: %w", err)
	}

	database, err := coredb.New(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	metaStore := patternstore.NewPGMetadataStore(database.Pool())
	patterns := patternstore.New(patternstore.NewInMemoryIndex(), metaStore, embedder)

	engine := inference.New(chatClient, patterns, synthesisCache)

	return pipeline.New(pipeline.Deps{
		SpecParser: specparser.New(),
		Validation: validation.NewExtractor(validation.LLMStage{Client: chatClient}),
		Planner:    planner.Planner{Client: chatClient},
		Atomizer:   atomizer.Atomizer{Embedder: embedCache},
		Inference:  engine,
		Repair:     repair.New(engine),
		Learning:   learning.New(patterns),
		Metrics:    metrics.NewRecorder(prometheus.NewRegistry()),
	}), nil
}
