// Package validation implements the Validation Extractor (C2): three
// extraction stages (direct, pattern, llm), unioned and deduplicated into a
// ValidationRuleSet. Grounded on the teacher's internal/brain keyword
// extraction shape (schema-constrained LLM calls with backoff retry) and
// generalized into the spec's closed family of extraction stages (spec §9:
// "model them as a closed family of variants ... composed by a
// unioner/deduper rather than by inheritance").
package validation

import (
	"devmatrix.dev/core/internal/domain"
)

// Stage is the shared contract of the three extraction stages (spec §9).
type Stage interface {
	Name() domain.ProvenanceSource
	Extract(spec Input) ([]domain.ValidationRule, error)
}

// Input bundles the parsed spec artifacts a stage needs.
type Input struct {
	Entities  []domain.Entity
	Endpoints []domain.Endpoint
}

// DirectStage walks each entity field and emits a rule for every explicit
// constraint (spec §4.2 Stage A). Confidence 0.95.
type DirectStage struct{}

func (DirectStage) Name() domain.ProvenanceSource { return domain.ProvenanceDirect }

func (DirectStage) Extract(in Input) ([]domain.ValidationRule, error) {
	const confidence = 0.95
	var rules []domain.ValidationRule

	for _, entity := range in.Entities {
		for _, field := range entity.Fields {
			prov := func(rationale string) domain.Provenance {
				return domain.Provenance{Source: domain.ProvenanceDirect, Confidence: confidence, Rationale: rationale}
			}

			if field.Required {
				rules = append(rules, domain.ValidationRule{
					Entity: entity.Name, Attribute: field.Name, Kind: domain.ValidationPresence,
					Condition: "required: true",
					Message:   field.Name + " is required",
					Provenance: prov("field marked required"),
				})
			}
			if field.Constraints.Format != "" {
				rules = append(rules, domain.ValidationRule{
					Entity: entity.Name, Attribute: field.Name, Kind: domain.ValidationFormat,
					Condition: "format: " + field.Constraints.Format,
					Message:   field.Name + " must match format " + field.Constraints.Format,
					Provenance: prov("explicit format constraint"),
				})
			}
			if field.Unique {
				rules = append(rules, domain.ValidationRule{
					Entity: entity.Name, Attribute: field.Name, Kind: domain.ValidationUniqueness,
					Condition: "unique: true",
					Message:   field.Name + " must be unique",
					Provenance: prov("field marked unique"),
				})
			}
			if field.Constraints.MinLength != nil || field.Constraints.MaxLength != nil {
				rules = append(rules, domain.ValidationRule{
					Entity: entity.Name, Attribute: field.Name, Kind: domain.ValidationRange,
					Condition: lengthCondition(field.Constraints.MinLength, field.Constraints.MaxLength),
					Message:   field.Name + " length out of range",
					Provenance: prov("explicit min/max length"),
				})
			}
			if field.Constraints.Min != nil || field.Constraints.Max != nil {
				rules = append(rules, domain.ValidationRule{
					Entity: entity.Name, Attribute: field.Name, Kind: domain.ValidationRange,
					Condition: numericCondition(field.Constraints.Min, field.Constraints.Max),
					Message:   field.Name + " value out of range",
					Provenance: prov("explicit min/max"),
				})
			}
			if field.ForeignKey != nil {
				rules = append(rules, domain.ValidationRule{
					Entity: entity.Name, Attribute: field.Name, Kind: domain.ValidationRelationship,
					Condition: field.Name + " references " + field.ForeignKey.Entity,
					Message:   field.Name + " must reference an existing " + field.ForeignKey.Entity,
					Provenance: prov("foreign key field"),
				})
			}
		}
	}
	return rules, nil
}

func lengthCondition(minLen, maxLen *int) string {
	cond := ""
	if minLen != nil {
		cond += "len>=" + itoa(*minLen)
	}
	if maxLen != nil {
		if cond != "" {
			cond += " AND "
		}
		cond += "len<=" + itoa(*maxLen)
	}
	return cond
}

func numericCondition(min, max *float64) string {
	cond := ""
	if min != nil {
		cond += "value>=" + ftoa(*min)
	}
	if max != nil {
		if cond != "" {
			cond += " AND "
		}
		cond += "value<=" + ftoa(*max)
	}
	return cond
}
