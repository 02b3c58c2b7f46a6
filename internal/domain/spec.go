// Package domain holds the Core's data model: the types that flow between
// phases of the Cognitive Generation Core pipeline.
package domain

import (
	"encoding/json"
	"time"
)

// SpecSection is one ordered unit of a SpecDocument: prose plus an optional
// fenced structured schema.
type SpecSection struct {
	Heading string          `json:"heading"`
	Prose   string          `json:"prose"`
	Schema  json.RawMessage `json:"schema,omitempty"`
}

// SpecDocument is the input: an ordered sequence of sections. Immutable
// after ingestion.
type SpecDocument struct {
	Sections []SpecSection `json:"sections"`
	RawText  string        `json:"raw_text"`
}

// FieldConstraints captures the constraint set attached to an Entity field.
type FieldConstraints struct {
	Format    string   `json:"format,omitempty"` // e.g. "uuid", "email", "ISO-8601"
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

// Field is one named, typed attribute of an Entity.
type Field struct {
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	Required     bool             `json:"required"`
	Unique       bool             `json:"unique"`
	ForeignKey   *ForeignKey      `json:"foreign_key,omitempty"`
	Constraints  FieldConstraints `json:"constraints,omitempty"`
	InferredType bool             `json:"inferred_type,omitempty"` // true if type was degraded to string
}

// ForeignKey references another Entity by name.
type ForeignKey struct {
	Entity string `json:"entity"`
	Field  string `json:"field"`
}

// Entity is a named record with fields, extracted from the spec.
type Entity struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// FieldByName returns the field with the given name, or nil.
func (e Entity) FieldByName(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HTTPMethod is one of the methods an Endpoint may use.
type HTTPMethod string

const (
	MethodGET    HTTPMethod = "GET"
	MethodPOST   HTTPMethod = "POST"
	MethodPUT    HTTPMethod = "PUT"
	MethodDELETE HTTPMethod = "DELETE"
	MethodPATCH  HTTPMethod = "PATCH"
)

// Endpoint is a tuple of (method, path, operation id, request schema
// reference, response map keyed by status code).
type Endpoint struct {
	Method       HTTPMethod        `json:"method"`
	Path         string            `json:"path"`
	OperationID  string            `json:"operation_id"`
	RequestEntity string           `json:"request_entity,omitempty"`
	Responses    map[int]string    `json:"responses"` // status code -> entity/schema name
}

// RequirementKind distinguishes functional from non-functional requirements.
type RequirementKind string

const (
	RequirementFunctional    RequirementKind = "functional"
	RequirementNonFunctional RequirementKind = "non_functional"
)

// Requirement is an atomic user-facing demand.
type Requirement struct {
	ID           string          `json:"id"`
	Text         string          `json:"text"`
	Domain       string          `json:"domain"` // crud, authentication, payment, workflow, search, ...
	Kind         RequirementKind `json:"kind"`
	Predecessors []string        `json:"predecessors,omitempty"`
}

// ValidationKind enumerates the closed family of validation rule kinds.
type ValidationKind string

const (
	ValidationPresence           ValidationKind = "presence"
	ValidationFormat             ValidationKind = "format"
	ValidationUniqueness         ValidationKind = "uniqueness"
	ValidationRange              ValidationKind = "range"
	ValidationRelationship       ValidationKind = "relationship"
	ValidationStockConstraint    ValidationKind = "stock_constraint"
	ValidationWorkflowConstraint ValidationKind = "workflow_constraint"
	ValidationStatusTransition   ValidationKind = "status_transition"
)

// ProvenanceSource is the closed family of extraction stages.
type ProvenanceSource string

const (
	ProvenanceDirect  ProvenanceSource = "direct"
	ProvenancePattern ProvenanceSource = "pattern"
	ProvenanceLLM     ProvenanceSource = "llm"
)

// priority returns a higher number for higher-priority provenance, used by
// the deduplication step to pick a dedup group's survivor.
func (p ProvenanceSource) priority() int {
	switch p {
	case ProvenanceDirect:
		return 3
	case ProvenancePattern:
		return 2
	case ProvenanceLLM:
		return 1
	default:
		return 0
	}
}

// Higher reports whether p outranks other in dedup priority (direct > pattern > llm).
func (p ProvenanceSource) Higher(other ProvenanceSource) bool {
	return p.priority() > other.priority()
}

// Provenance records the origin and confidence of a ValidationRule.
type Provenance struct {
	Source     ProvenanceSource `json:"source"`
	Confidence float64          `json:"confidence"`
	Rationale  string           `json:"rationale,omitempty"`
}

// ValidationRule is the five-field record from spec §3: entity, attribute,
// kind, condition, message, plus provenance.
type ValidationRule struct {
	Entity    string         `json:"entity"`
	Attribute string         `json:"attribute"`
	Kind      ValidationKind `json:"kind"`
	Condition string         `json:"condition"`
	Message   string         `json:"message"`
	Provenance Provenance    `json:"provenance"`
}

// Key returns the (entity, attribute, kind) dedup key.
func (v ValidationRule) Key() ValidationRuleKey {
	return ValidationRuleKey{Entity: v.Entity, Attribute: v.Attribute, Kind: v.Kind}
}

// ValidationRuleKey is the dedup identity of a ValidationRule.
type ValidationRuleKey struct {
	Entity    string
	Attribute string
	Kind      ValidationKind
}

// ValidationRuleSet is the deduplicated output of the Validation Extractor.
type ValidationRuleSet struct {
	Rules    []ValidationRule `json:"rules"`
	Coverage *float64         `json:"coverage,omitempty"` // nil when ground truth absent
}

// GroundTruth is the optional input described in spec §6.
type GroundTruth struct {
	EntityNames     []string                          `json:"entity_names"`
	Endpoints       []EndpointKey                      `json:"endpoints"`
	ValidationRules []ValidationRuleKey                `json:"validation_rules"`
	Requirements    map[string]RequirementClassification `json:"requirements,omitempty"`
}

// RequirementClassification is the expected (domain, kind) pair for one
// requirement ID, used to score C3's classifier output when ground truth
// is supplied (spec §4.3's "accuracy and precision metrics").
type RequirementClassification struct {
	Domain string          `json:"domain"`
	Kind   RequirementKind `json:"kind"`
}

// EndpointKey identifies an endpoint by (method, path).
type EndpointKey struct {
	Method HTTPMethod `json:"method"`
	Path   string     `json:"path"`
}

// StackDescriptor names the target stack for code emission.
type StackDescriptor struct {
	HTTPFramework string `json:"http_framework"`
	ORM           string `json:"orm"`
	Serialization string `json:"serialization"`
}

// RunContext is the per-run immutable bundle shared read-only by all
// components.
type RunContext struct {
	RunID           string
	Spec            SpecDocument
	GroundTruth     *GroundTruth
	Stack           StackDescriptor
	TokenBudget     int
	PhaseTimeout    time.Duration
	RunTimeout      time.Duration
	MaxConcurrency  int
	CreatedAt       time.Time
}

// BestEffort reports whether the run has no ground truth and the compliance
// validator must operate in best-effort mode (spec §6).
func (rc RunContext) BestEffort() bool {
	return rc.GroundTruth == nil
}
