// Package repair implements the Repair Loop (C10): given a FileMap and a
// ComplianceReport, it converts each failure into a targeted repair task,
// applies deterministic AST-aware edits where the target file convention
// allows it, and falls back to the Cognitive Inference Engine only when
// an edit cannot be located or applied (spec §4.10). Grounded on the
// teacher's internal/planner/planner.go job-constructor dispatch-on-kind
// pattern.
package repair

import (
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"log/slog"
	"sort"
	"strings"

	"devmatrix.dev/core/internal/compliance"
	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/embedcache"
)

// TaskKind is the closed family of repair operations (spec §4.10).
type TaskKind string

const (
	TaskAddMissingEntity     TaskKind = "add_missing_entity"
	TaskAddMissingEndpoint   TaskKind = "add_missing_endpoint"
	TaskAddMissingValidation TaskKind = "add_missing_validation"
	TaskFixSerialization     TaskKind = "fix_serialization"
)

// DefaultMaxIterations is the repair loop's iteration cap (spec §4.10).
const DefaultMaxIterations = 3

// RepairTask pairs a dispatch kind with the failure that produced it.
type RepairTask struct {
	Kind    TaskKind
	Failure domain.ComplianceFailure
}

// Synthesizer is the fallback path when a deterministic AST edit cannot
// be applied (spec §4.10: "fall back to the Cognitive Inference Engine
// for that task"). *inference.Engine satisfies this directly.
type Synthesizer interface {
	Synthesize(ctx context.Context, run domain.RunContext, task domain.AtomicTask, sig domain.SemanticSignature) (string, error)
}

// Loop is the Repair Loop.
type Loop struct {
	Engine        Synthesizer
	MaxIterations int
}

// New builds a Loop with the default iteration cap.
func New(engine Synthesizer) *Loop {
	return &Loop{Engine: engine, MaxIterations: DefaultMaxIterations}
}

// Outcome summarizes one Run call for the RunReport.
type Outcome struct {
	Files      domain.FileMap
	Report     domain.ComplianceReport
	Iterations int
	StopReason string // "coverage_reached", "plateau", "iteration_cap", "no_repairable_failures"
}

// Run iterates repair attempts starting from files/report until coverage
// reaches 1.0, two consecutive iterations show no improvement (plateau),
// or the iteration cap is reached (spec §4.10). Every candidate is
// re-scored before being accepted; a repair that reduces overall
// compliance is rolled back (invariant ii).
func (l *Loop) Run(ctx context.Context, run domain.RunContext, files domain.FileMap, report domain.ComplianceReport) Outcome {
	maxIterations := l.MaxIterations
	if maxIterations == 0 {
		maxIterations = DefaultMaxIterations
	}

	noImprovementStreak := 0
	iterations := 0

	for iterations < maxIterations {
		if report.Overall >= 1.0 {
			return Outcome{Files: files, Report: report, Iterations: iterations, StopReason: "coverage_reached"}
		}

		tasks := tasksFor(report.Failures)
		if len(tasks) == 0 {
			return Outcome{Files: files, Report: report, Iterations: iterations, StopReason: "no_repairable_failures"}
		}

		candidate := cloneFileMap(files)
		for _, task := range tasks {
			l.applyTask(ctx, run, candidate, task)
		}

		candidateReport := compliance.Validate(candidate, run.GroundTruth)
		iterations++

		if candidateReport.Overall <= report.Overall {
			noImprovementStreak++
			slog.WarnContext(ctx, "repair iteration made no improvement, rolling back", "run_id", run.RunID, "iteration", iterations, "overall_before", report.Overall, "overall_after", candidateReport.Overall)
			if noImprovementStreak >= 2 {
				return Outcome{Files: files, Report: report, Iterations: iterations, StopReason: "plateau"}
			}
			continue
		}

		noImprovementStreak = 0
		files = candidate
		report = candidateReport
	}

	return Outcome{Files: files, Report: report, Iterations: iterations, StopReason: "iteration_cap"}
}

// tasksFor converts failures into repair tasks, sorted for determinism
// (invariant iii).
func tasksFor(failures []domain.ComplianceFailure) []RepairTask {
	tasks := make([]RepairTask, 0, len(failures))
	for _, f := range failures {
		var kind TaskKind
		switch f.Kind {
		case domain.FailureMissingEntity:
			kind = TaskAddMissingEntity
		case domain.FailureMissingEndpoint:
			kind = TaskAddMissingEndpoint
		case domain.FailureMissingValidation:
			kind = TaskFixSerialization
			if !isSerializationLocator(f.Locator) {
				kind = TaskAddMissingValidation
			}
		default:
			continue // import_failure is not repairable by this loop
		}
		tasks = append(tasks, RepairTask{Kind: kind, Failure: f})
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Kind != tasks[j].Kind {
			return tasks[i].Kind < tasks[j].Kind
		}
		return tasks[i].Failure.Locator < tasks[j].Failure.Locator
	})
	return tasks
}

// isSerializationLocator reports whether a missing-validation failure's
// locator names a "format" rule, which this Core routes to the
// fix_serialization repair kind rather than add_missing_validation (the
// closed ComplianceFailure family has no dedicated serialization kind;
// format-kind validations are the natural analogue of spec's "attach
// encoder" repair).
func isSerializationLocator(locator string) bool {
	return strings.HasSuffix(locator, "."+string(domain.ValidationFormat))
}

func (l *Loop) applyTask(ctx context.Context, run domain.RunContext, files domain.FileMap, task RepairTask) {
	var err error
	switch task.Kind {
	case TaskAddMissingEntity:
		err = addMissingEntity(files, task.Failure.Locator)
	case TaskAddMissingEndpoint:
		err = addMissingEndpoint(files, task.Failure.Locator)
	case TaskAddMissingValidation, TaskFixSerialization:
		err = addMissingValidation(files, task.Failure.Locator, task.Kind)
	}
	if err == nil {
		return
	}

	slog.WarnContext(ctx, "deterministic repair edit failed, falling back to inference engine", "kind", task.Kind, "locator", task.Failure.Locator, "error", err)
	if l.Engine == nil {
		return
	}

	fallbackTask := domain.AtomicTask{
		ID:      fmt.Sprintf("repair-%s-%s", task.Kind, task.Failure.Locator),
		Purpose: fmt.Sprintf("repair %s: %s", task.Kind, task.Failure.Locator),
		LineBudget: 80,
	}
	source, synthErr := l.Engine.Synthesize(ctx, run, fallbackTask, domain.SemanticSignature{Hash: embedcache.Hash(fallbackTask.Purpose)})
	if synthErr != nil {
		slog.ErrorContext(ctx, "inference fallback also failed for repair task", "kind", task.Kind, "locator", task.Failure.Locator, "error", synthErr)
		return
	}
	files[fallbackPath(task.Kind, task.Failure.Locator)] = []byte(source)
}

func fallbackPath(kind TaskKind, locator string) string {
	switch kind {
	case TaskAddMissingEntity:
		return fmt.Sprintf("models/%s_repair.go", sanitize(locator))
	case TaskAddMissingEndpoint:
		return fmt.Sprintf("handlers/%s_repair.go", sanitize(locator))
	default:
		return fmt.Sprintf("validation/%s_repair.go", sanitize(locator))
	}
}

func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			b[i] = '_'
		}
	}
	return string(b)
}

func cloneFileMap(fm domain.FileMap) domain.FileMap {
	out := make(domain.FileMap, len(fm))
	for path, content := range fm {
		dup := make([]byte, len(content))
		copy(dup, content)
		out[path] = dup
	}
	return out
}

func printFile(fset *token.FileSet, file *ast.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, file); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseOrNew(files domain.FileMap, path, pkg string) (*token.FileSet, *ast.File, error) {
	fset := token.NewFileSet()
	if content, ok := files[path]; ok {
		file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return fset, file, nil
	}
	file, err := parser.ParseFile(fset, path, fmt.Sprintf("package %s\n", pkg), parser.ParseComments)
	if err != nil {
		return nil, nil, err
	}
	return fset, file, nil
}
