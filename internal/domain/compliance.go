package domain

// FailureKind is the closed family of ComplianceReport failure locators.
type FailureKind string

const (
	FailureMissingEntity     FailureKind = "missing_entity"
	FailureMissingEndpoint   FailureKind = "missing_endpoint"
	FailureMissingValidation FailureKind = "missing_validation"
	FailureImport            FailureKind = "import_failure"
)

// ComplianceFailure locates one specific coverage gap.
type ComplianceFailure struct {
	Kind    FailureKind `json:"kind"`
	Locator string      `json:"locator"` // entity name, "METHOD path", or "entity.attribute.kind"
	Detail  string      `json:"detail,omitempty"`
}

// ComplianceReport holds per-dimension coverage plus an overall score.
type ComplianceReport struct {
	EntityCoverage     float64             `json:"entity_coverage"`
	EndpointCoverage   float64             `json:"endpoint_coverage"`
	ValidationCoverage float64             `json:"validation_coverage"`
	Overall            float64             `json:"overall"`
	Failures           []ComplianceFailure `json:"failures"`
	BestEffort         bool                `json:"best_effort"`
}

// Weights used to combine per-dimension coverage into the overall score
// (spec §4.9).
const (
	WeightEntities    = 0.2
	WeightEndpoints   = 0.4
	WeightValidations = 0.4
)

// FileMap is the mapping from relative POSIX path to file contents.
type FileMap map[string][]byte
