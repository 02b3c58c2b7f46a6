// Package pipeline ties C1-C11 together into the phase-sequential
// orchestrator described in spec §5: strict phase boundaries, bounded
// per-layer concurrency during synthesis, cooperative cancellation, and
// RunReport assembly. Grounded on the teacher's internal/pipeline/
// pipeline.go sequential-call shape and internal/brain/retriever.go's
// semaphore-bounded executeToolsParallel for the one phase that fans out.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"devmatrix.dev/core/common"
	"devmatrix.dev/core/internal/atomizer"
	"devmatrix.dev/core/internal/classifier"
	"devmatrix.dev/core/internal/compliance"
	"devmatrix.dev/core/internal/dag"
	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/learning"
	"devmatrix.dev/core/internal/metrics"
	"devmatrix.dev/core/internal/planner"
	"devmatrix.dev/core/internal/repair"
	"devmatrix.dev/core/internal/specparser"
	"devmatrix.dev/core/internal/validation"
)

// defaultMaxConcurrency matches spec §5's executor width when a run does
// not specify its own.
const defaultMaxConcurrency = 4

// Synthesizer is C8's contract as consumed here, matching
// inference.Engine.Synthesize's signature structurally.
type Synthesizer interface {
	Synthesize(ctx context.Context, run domain.RunContext, task domain.AtomicTask, sig domain.SemanticSignature) (string, error)
}

// GraphPersister mirrors graphstore.Store.Persist structurally so this
// package never needs to import the arangodb driver: when unset, the DAG
// simply isn't persisted anywhere outside the run's in-memory RunReport.
type GraphPersister interface {
	Persist(ctx context.Context, runID string, d domain.DAG)
}

// Deps wires the eleven components into one pipeline run. C7 (Pattern
// Store) and C8 (Inference Engine) cooperate entirely inside Synthesizer;
// they share one synthesis phase rather than getting a phase each (see
// DESIGN.md's phase-count decision).
type Deps struct {
	SpecParser specparser.Parser
	Validation validation.Extractor
	Planner    planner.Planner
	Atomizer   atomizer.Atomizer
	Inference  Synthesizer
	Repair     *repair.Loop
	Learning   *learning.Promoter
	Metrics    *metrics.Recorder
	GraphStore GraphPersister
}

// Pipeline runs a single RunContext through all ten phases (C7 and C8
// share the synthesis phase).
type Pipeline struct {
	deps Deps
}

// New builds a Pipeline over the given component wiring.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// Run executes the pipeline-sequential flow described in spec §5.
// Phase boundaries are strict: phase k+1 never starts until every task of
// phase k has terminated. A phase failure or context cancellation ends the
// run early and returns whatever FileMap/RunReport had been assembled so
// far, with Status reflecting the outcome.
func (p *Pipeline) Run(ctx context.Context, run domain.RunContext) (domain.FileMap, domain.RunReport) {
	report := domain.RunReport{RunID: run.RunID, StartedAt: time.Now()}

	if run.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.RunTimeout)
		defer cancel()
	}

	files := domain.FileMap{}

	var (
		parsed   specparser.Result
		ruleSet  domain.ValidationRuleSet
		classRes classifier.Result
		plan     planner.Masterplan
		tasks    []domain.AtomicTask
		sigs     []domain.SemanticSignature
		taskDAG  domain.DAG
	)

	ok := p.runPhase(ctx, run.PhaseTimeout, &report, domain.PhaseSpecParsing, func(ctx context.Context) error {
		var err error
		parsed, err = p.deps.SpecParser.Parse(run.Spec)
		return err
	})
	if !ok {
		return p.finish(files, report, p.failureStatus(ctx))
	}

	ok = p.runPhase(ctx, run.PhaseTimeout, &report, domain.PhaseValidationExtract, func(ctx context.Context) error {
		var err error
		ruleSet, err = p.deps.Validation.Extract(validation.Input{Entities: parsed.Entities, Endpoints: parsed.Endpoints}, run.GroundTruth)
		if err == nil {
			slog.InfoContext(ctx, "validation rules extracted", "run_id", run.RunID, "count", len(ruleSet.Rules))
		}
		return err
	})
	if !ok {
		return p.finish(files, report, p.failureStatus(ctx))
	}

	ok = p.runPhase(ctx, run.PhaseTimeout, &report, domain.PhaseClassification, func(ctx context.Context) error {
		classRes = classifier.Classify(parsed.Requirements, run.GroundTruth)
		return nil
	})
	if !ok {
		return p.finish(files, report, p.failureStatus(ctx))
	}
	report.ClassificationAccuracy = classRes.Accuracy
	report.ClassificationPrecision = classRes.Precision

	ok = p.runPhase(ctx, run.PhaseTimeout, &report, domain.PhasePlanning, func(ctx context.Context) error {
		var err error
		plan, err = p.deps.Planner.Plan(ctx, run, classRes.Requirements)
		return err
	})
	if !ok {
		return p.finish(files, report, p.failureStatus(ctx))
	}

	ok = p.runPhase(ctx, run.PhaseTimeout, &report, domain.PhaseAtomization, func(ctx context.Context) error {
		var err error
		tasks, sigs, err = p.deps.Atomizer.Atomize(ctx, plan)
		return err
	})
	if !ok {
		return p.finish(files, report, p.failureStatus(ctx))
	}

	ok = p.runPhase(ctx, run.PhaseTimeout, &report, domain.PhaseDAGBuild, func(ctx context.Context) error {
		var err error
		taskDAG, err = dag.Build(tasks)
		return err
	})
	if !ok {
		return p.finish(files, report, p.failureStatus(ctx))
	}

	if p.deps.GraphStore != nil {
		p.deps.GraphStore.Persist(ctx, run.RunID, taskDAG)
	}

	sigByTask := make(map[string]domain.SemanticSignature, len(sigs))
	for _, s := range sigs {
		sigByTask[s.TaskID] = s
	}

	var outcomes []learning.TaskOutcome
	ok = p.runPhase(ctx, run.PhaseTimeout, &report, domain.PhaseSynthesis, func(ctx context.Context) error {
		outcomes = p.synthesizeLayers(ctx, run, taskDAG, sigByTask, files)
		return nil
	})
	if !ok {
		return p.finish(files, report, p.failureStatus(ctx))
	}
	if ctx.Err() != nil {
		// synthesizeLayers can return cleanly after its context was
		// cancelled mid-layer (spec §8 scenario F): the phase itself
		// "succeeded" but the run must still end cancelled, and the
		// partial file map it wrote must never reach the caller.
		return p.finish(domain.FileMap{}, report, domain.RunStatusCancelled)
	}

	var complianceReport domain.ComplianceReport
	ok = p.runPhase(ctx, run.PhaseTimeout, &report, domain.PhaseCompliance, func(ctx context.Context) error {
		complianceReport = compliance.Validate(files, run.GroundTruth)
		return nil
	})
	if !ok {
		return p.finish(files, report, p.failureStatus(ctx))
	}

	ok = p.runPhase(ctx, run.PhaseTimeout, &report, domain.PhaseRepair, func(ctx context.Context) error {
		if p.deps.Repair == nil {
			return nil
		}
		outcome := p.deps.Repair.Run(ctx, run, files, complianceReport)
		files = outcome.Files
		complianceReport = outcome.Report
		report.RepairIterations = outcome.Iterations
		report.RepairReason = outcome.StopReason
		return nil
	})
	if !ok {
		return p.finish(files, report, p.failureStatus(ctx))
	}

	if p.deps.Learning != nil {
		p.runPhase(ctx, run.PhaseTimeout, &report, domain.PhaseLearning, func(ctx context.Context) error {
			promoted, err := p.deps.Learning.Promote(ctx, run, complianceReport, outcomes)
			if err != nil {
				slog.WarnContext(ctx, "learning promotion failed", "run_id", run.RunID, "error", err)
				return nil // best-effort: never fails the run (spec §4.11)
			}
			report.PromotedPatterns = len(promoted)
			if p.deps.Metrics != nil {
				p.deps.Metrics.PromotedPatterns.Add(float64(len(promoted)))
			}
			return nil
		})
	}

	report.EntityCoverage = complianceReport.EntityCoverage
	report.EndpointCoverage = complianceReport.EndpointCoverage
	report.ValidationCoverage = complianceReport.ValidationCoverage
	report.OverallCompliance = complianceReport.Overall

	return p.finish(files, report, domain.RunStatusSuccess)
}

// failureStatus distinguishes a phase that failed on its own terms from one
// that never got to finish because the run's context was cancelled or timed
// out (spec §8 scenario F): the latter ends the run as cancelled rather than
// failed, regardless of what error the phase function itself returned.
func (p *Pipeline) failureStatus(ctx context.Context) domain.RunStatus {
	if ctx.Err() != nil {
		return domain.RunStatusCancelled
	}
	return domain.RunStatusFailed
}

// finish assembles the terminal RunReport. A cancelled run never carries its
// partial file map forward: scenario F requires the synthesized-so-far files
// be discarded, not persisted, so only the report's bookkeeping survives.
func (p *Pipeline) finish(files domain.FileMap, report domain.RunReport, status domain.RunStatus) (domain.FileMap, domain.RunReport) {
	report.FinishedAt = time.Now()
	report.Status = status
	if p.deps.Metrics != nil {
		p.deps.Metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	}
	if status == domain.RunStatusCancelled {
		return domain.FileMap{}, report
	}
	return files, report
}

// runPhase times and records one phase, honoring cooperative cancellation
// (spec §5): a cancelled context aborts the run after the current phase's
// outermost await without starting the next phase. When phaseTimeout is set,
// fn runs under its own derived deadline (spec §5's "per-phase timeout:
// configurable, default 10 min") independent of the overall run timeout.
func (p *Pipeline) runPhase(ctx context.Context, phaseTimeout time.Duration, report *domain.RunReport, phase domain.PhaseName, fn func(context.Context) error) bool {
	if err := ctx.Err(); err != nil {
		report.Phases = append(report.Phases, domain.PhaseResult{Phase: phase, Succeeded: false, ErrorKind: domain.ErrorTransient, ErrorDetail: err.Error()})
		report.FailingPhase = phase
		return false
	}

	phaseCtx := ctx
	if phaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, phaseTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(phaseCtx)
	elapsed := time.Since(start)
	recordPhase(p.deps.Metrics, phase, elapsed.Seconds())

	result := domain.PhaseResult{Phase: phase, DurationMS: elapsed.Milliseconds(), Succeeded: err == nil}
	if err != nil {
		result.ErrorKind = domain.KindOf(err)
		result.ErrorDetail = err.Error()
		report.FailingPhase = phase
		report.ErrorCount++
		slog.ErrorContext(ctx, "pipeline phase failed", "run_id", report.RunID, "phase", phase, "error", err)
	}
	report.Phases = append(report.Phases, result)
	return err == nil
}

// synthesizeLayers executes the synthesis phase: within each topological
// layer, tasks are independent and run concurrently, bounded by
// MaxConcurrency (default 4), mirroring the teacher's
// executeToolsParallel semaphore pattern. Layer k+1 never starts before
// every task of layer k has terminated (spec §5 ordering guarantee).
func (p *Pipeline) synthesizeLayers(ctx context.Context, run domain.RunContext, taskDAG domain.DAG, sigByTask map[string]domain.SemanticSignature, files domain.FileMap) []learning.TaskOutcome {
	maxConcurrency := run.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	var (
		mu       sync.Mutex
		outcomes []learning.TaskOutcome
	)

	for _, layer := range taskDAG.Layers() {
		if ctx.Err() != nil {
			break
		}

		var wg sync.WaitGroup
		sem := make(chan struct{}, maxConcurrency)

		for _, taskID := range layer {
			node, ok := taskDAG.Nodes[taskID]
			if !ok {
				continue
			}
			wg.Add(1)
			go func(task domain.AtomicTask) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				sig := sigByTask[task.ID]
				source, err := p.deps.Inference.Synthesize(ctx, run, task, sig)
				passed := err == nil

				mu.Lock()
				defer mu.Unlock()
				if passed {
					files[synthesisPath(task)] = []byte(source)
				} else {
					slog.WarnContext(ctx, "task synthesis failed", "run_id", run.RunID, "task_id", task.ID, "error", err)
				}
				outcomes = append(outcomes, learning.TaskOutcome{Task: task, Signature: sig, Artifact: source, Passed: passed})
			}(node.Task)
		}

		wg.Wait()
	}

	return outcomes
}

func synthesisPath(task domain.AtomicTask) string {
	name, err := common.Slugify(task.Purpose, task.ID)
	if err != nil {
		name = task.ID
	}
	return fmt.Sprintf("synthesized/%s.go", name)
}
