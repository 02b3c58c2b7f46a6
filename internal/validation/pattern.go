package validation

import (
	"strings"

	"devmatrix.dev/core/internal/domain"
)

// PatternStage matches fields and endpoint shapes against a versioned
// catalog of heuristics keyed by type names, field names, and HTTP
// semantics (spec §4.2 Stage B). Confidence 0.85.
type PatternStage struct {
	Catalog []Heuristic
}

// Heuristic is one entry in the pattern catalog.
type Heuristic struct {
	Name  string
	Match func(in Input) []domain.ValidationRule
}

// NewPatternStage builds the pattern stage with the default heuristic
// catalog (versioned as "v1").
func NewPatternStage() PatternStage {
	return PatternStage{Catalog: defaultCatalogV1()}
}

func (p PatternStage) Name() domain.ProvenanceSource { return domain.ProvenancePattern }

func (p PatternStage) Extract(in Input) ([]domain.ValidationRule, error) {
	var rules []domain.ValidationRule
	for _, h := range p.Catalog {
		rules = append(rules, h.Match(in)...)
	}
	return rules, nil
}

const patternConfidence = 0.85

func defaultCatalogV1() []Heuristic {
	return []Heuristic{
		{
			Name: "email-field-format",
			Match: func(in Input) []domain.ValidationRule {
				var out []domain.ValidationRule
				for _, e := range in.Entities {
					for _, f := range e.Fields {
						if strings.Contains(strings.ToLower(f.Name), "email") {
							out = append(out, domain.ValidationRule{
								Entity: e.Name, Attribute: f.Name, Kind: domain.ValidationFormat,
								Condition: "format: email",
								Message:   f.Name + " must be a valid email address",
								Provenance: domain.Provenance{Source: domain.ProvenancePattern, Confidence: patternConfidence, Rationale: "field name matches email heuristic"},
							})
						}
					}
				}
				return out
			},
		},
		{
			Name: "post-409-implies-uniqueness",
			Match: func(in Input) []domain.ValidationRule {
				var out []domain.ValidationRule
				for _, ep := range in.Endpoints {
					if ep.Method != domain.MethodPOST {
						continue
					}
					if _, has409 := ep.Responses[409]; !has409 {
						continue
					}
					entity := ep.RequestEntity
					if entity == "" {
						continue
					}
					field := uniqueFieldGuess(in, entity)
					if field == "" {
						continue
					}
					out = append(out, domain.ValidationRule{
						Entity: entity, Attribute: field, Kind: domain.ValidationUniqueness,
						Condition: "unique constraint on " + field + " column",
						Message:   field + " must be unique",
						Provenance: domain.Provenance{Source: domain.ProvenancePattern, Confidence: patternConfidence, Rationale: "POST endpoint declares a 409 response"},
					})
				}
				return out
			},
		},
		{
			Name: "auth-status-codes",
			Match: func(in Input) []domain.ValidationRule {
				var out []domain.ValidationRule
				for _, ep := range in.Endpoints {
					_, has401 := ep.Responses[401]
					_, has403 := ep.Responses[403]
					if !has401 && !has403 {
						continue
					}
					out = append(out, domain.ValidationRule{
						Entity: ep.RequestEntity, Attribute: "authorization", Kind: domain.ValidationWorkflowConstraint,
						Condition: "requires authenticated principal",
						Message:   "request must be authorized",
						Provenance: domain.Provenance{Source: domain.ProvenancePattern, Confidence: patternConfidence, Rationale: "endpoint declares 401/403 responses"},
					})
				}
				return out
			},
		},
	}
}

func uniqueFieldGuess(in Input, entityName string) string {
	for _, e := range in.Entities {
		if e.Name != entityName {
			continue
		}
		if f := e.FieldByName("email"); f != nil {
			return "email"
		}
		for _, f := range e.Fields {
			if f.Unique {
				return f.Name
			}
		}
	}
	return ""
}
