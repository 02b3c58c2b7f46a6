package domain

import "time"

// RunStatus is the closed family of run statuses: running while a run is
// in flight, and the three terminal RunReport statuses.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// PhaseName enumerates the pipeline's sequential phases in execution order.
// C7 (Pattern Store) and C8 (Cognitive Inference Engine) cooperate entirely
// within PhaseSynthesis rather than each owning a phase (see DESIGN.md).
type PhaseName string

const (
	PhaseSpecParsing       PhaseName = "spec_parsing"
	PhaseValidationExtract PhaseName = "validation_extraction"
	PhaseClassification    PhaseName = "classification"
	PhasePlanning          PhaseName = "planning"
	PhaseAtomization       PhaseName = "atomization"
	PhaseDAGBuild          PhaseName = "dag_build"
	PhaseSynthesis         PhaseName = "synthesis"
	PhaseCompliance        PhaseName = "compliance"
	PhaseRepair            PhaseName = "repair"
	PhaseLearning          PhaseName = "learning"
)

// PhaseResult records one phase's outcome for the RunReport.
type PhaseResult struct {
	Phase       PhaseName     `json:"phase"`
	DurationMS  int64         `json:"duration_ms"`
	Succeeded   bool          `json:"succeeded"`
	Warnings    int           `json:"warnings"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
}

// RunReport is the structured record described in spec §6.
type RunReport struct {
	RunID             string        `json:"run_id"`
	Status            RunStatus     `json:"status"`
	FailingPhase      PhaseName     `json:"failing_phase,omitempty"`
	Phases            []PhaseResult `json:"phases"`
	EntityCoverage    float64       `json:"entity_coverage"`
	EndpointCoverage  float64       `json:"endpoint_coverage"`
	ValidationCoverage float64      `json:"validation_coverage"`
	OverallCompliance float64       `json:"overall_compliance"`
	RepairIterations  int           `json:"repair_iterations"`
	RepairReason      string        `json:"repair_stop_reason,omitempty"`
	ErrorCount        int           `json:"error_count"`
	RecoveryCount     int           `json:"recovery_count"`
	TokensConsumed    int64         `json:"tokens_consumed"`
	PromotedPatterns  int           `json:"promoted_patterns"`
	// ClassificationAccuracy/Precision score C3's (domain, kind) output
	// against GroundTruth.Requirements when supplied; both are zero when
	// no ground truth was available for the run (spec §4.3).
	ClassificationAccuracy  float64   `json:"classification_accuracy,omitempty"`
	ClassificationPrecision float64   `json:"classification_precision,omitempty"`
	StartedAt               time.Time `json:"started_at"`
	FinishedAt              time.Time `json:"finished_at"`
}
