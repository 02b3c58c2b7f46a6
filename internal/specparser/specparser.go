// Package specparser implements the Spec Parser (C1): it turns a
// SpecDocument's prose and embedded structured schemas into Entities,
// Endpoints, and Requirements. Grounded on the teacher's internal/spec
// Generator interface shape, generalized from LLM spec-generation to
// spec-document ingestion.
package specparser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"devmatrix.dev/core/internal/domain"
)

// Result is C1's contract output: Entities, Endpoints, Requirements, and a
// free-form business-logic rule set (kept as prose notes; interpreted
// downstream by the Validation Extractor's cross-entity stage).
type Result struct {
	Entities         []domain.Entity
	Endpoints        []domain.Endpoint
	Requirements     []domain.Requirement
	BusinessLogic    []string
	Warnings         []string
}

// Parser is the Spec Parser contract.
type Parser interface {
	Parse(doc domain.SpecDocument) (Result, error)
}

type parser struct{}

// New constructs the default Spec Parser.
func New() Parser { return &parser{} }

// schemaEntity is the shape of an embedded fenced-JSON entity schema.
type schemaEntity struct {
	Name   string `json:"entity"`
	Fields []struct {
		Name       string   `json:"name"`
		Type       string   `json:"type"`
		Required   bool     `json:"required"`
		Unique     bool     `json:"unique"`
		Format     string   `json:"format"`
		MinLength  *int     `json:"min_length"`
		MaxLength  *int     `json:"max_length"`
		Min        *float64 `json:"min"`
		Max        *float64 `json:"max"`
		Enum       []string `json:"enum"`
		FKEntity   string   `json:"fk_entity"`
		FKField    string   `json:"fk_field"`
	} `json:"fields"`
}

type schemaEndpoint struct {
	Method        string         `json:"method"`
	Path          string         `json:"path"`
	OperationID   string         `json:"operation_id"`
	RequestEntity string         `json:"request_entity"`
	Responses     map[string]string `json:"responses"`
}

type schemaBlock struct {
	Entities  []schemaEntity   `json:"entities"`
	Endpoints []schemaEndpoint `json:"endpoints"`
}

var proseNounPhrase = regexp.MustCompile(`(?m)^[*-]\s+([A-Z][A-Za-z0-9_]*)\s*:\s*(.+)$`)

// Parse implements Parser. It is idempotent: the same input text yields the
// same output (spec §4.1).
func (p *parser) Parse(doc domain.SpecDocument) (Result, error) {
	var result Result

	schemaEntities := map[string]domain.Entity{}
	var schemaEndpoints []domain.Endpoint

	for _, section := range doc.Sections {
		if len(section.Schema) > 0 {
			var block schemaBlock
			if err := json.Unmarshal(section.Schema, &block); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("section %q: malformed schema block: %v", section.Heading, err))
				continue
			}
			for _, se := range block.Entities {
				ent := toEntity(se, &result.Warnings)
				schemaEntities[ent.Name] = ent
			}
			for _, se := range block.Endpoints {
				schemaEndpoints = append(schemaEndpoints, toEndpoint(se))
			}
		}
	}

	// Prose wins only where schema is silent: schema data conflicts with
	// prose ⇒ schema wins (spec §4.1 Policy).
	proseEntities := extractProseEntities(doc.RawText, &result.Warnings)
	for name, ent := range proseEntities {
		if _, exists := schemaEntities[name]; !exists {
			schemaEntities[name] = ent
		}
	}

	for _, ent := range schemaEntities {
		result.Entities = append(result.Entities, ent)
	}
	sort.Slice(result.Entities, func(i, j int) bool { return result.Entities[i].Name < result.Entities[j].Name })
	result.Endpoints = schemaEndpoints
	result.Requirements = deriveRequirements(result.Entities, result.Endpoints)
	result.BusinessLogic = extractBusinessLogicNotes(doc.RawText)

	if len(result.Entities) == 0 {
		return result, domain.NewFatalError(domain.ErrorInvariant, domain.ErrSpecMalformed)
	}

	slog.Info("spec parsed", "entities", len(result.Entities), "endpoints", len(result.Endpoints), "requirements", len(result.Requirements))
	return result, nil
}

func toEntity(se schemaEntity, warnings *[]string) domain.Entity {
	ent := domain.Entity{Name: se.Name}
	for _, f := range se.Fields {
		fieldType := f.Type
		inferred := false
		if fieldType == "" {
			fieldType = "string"
			inferred = true
			*warnings = append(*warnings, fmt.Sprintf("entity %s field %s: unknown type, degraded to string", se.Name, f.Name))
		}
		field := domain.Field{
			Name:         f.Name,
			Type:         fieldType,
			Required:     f.Required,
			Unique:       f.Unique,
			InferredType: inferred,
			Constraints: domain.FieldConstraints{
				Format:    f.Format,
				MinLength: f.MinLength,
				MaxLength: f.MaxLength,
				Min:       f.Min,
				Max:       f.Max,
				Enum:      f.Enum,
			},
		}
		if f.FKEntity != "" {
			field.ForeignKey = &domain.ForeignKey{Entity: f.FKEntity, Field: f.FKField}
		}
		ent.Fields = append(ent.Fields, field)
	}
	return ent
}

func toEndpoint(se schemaEndpoint) domain.Endpoint {
	responses := map[int]string{}
	for codeStr, entity := range se.Responses {
		var code int
		_, _ = fmt.Sscanf(codeStr, "%d", &code)
		responses[code] = entity
	}
	return domain.Endpoint{
		Method:        domain.HTTPMethod(strings.ToUpper(se.Method)),
		Path:          se.Path,
		OperationID:   se.OperationID,
		RequestEntity: se.RequestEntity,
		Responses:     responses,
	}
}

// extractProseEntities does a heuristic noun-phrase extraction of lines
// shaped like "- EntityName: field1, field2" from free prose. Parse merges
// in only the entities no structured schema defines.
func extractProseEntities(text string, warnings *[]string) map[string]domain.Entity {
	out := map[string]domain.Entity{}
	for _, m := range proseNounPhrase.FindAllStringSubmatch(text, -1) {
		name, rest := m[1], m[2]
		ent := domain.Entity{Name: name}
		for _, part := range strings.Split(rest, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			ent.Fields = append(ent.Fields, domain.Field{Name: part, Type: "string", InferredType: true})
		}
		if len(ent.Fields) == 0 {
			*warnings = append(*warnings, fmt.Sprintf("prose entity %q: no fields extracted", name))
		}
		out[name] = ent
	}
	return out
}

func deriveRequirements(entities []domain.Entity, endpoints []domain.Endpoint) []domain.Requirement {
	var reqs []domain.Requirement
	for _, e := range entities {
		reqs = append(reqs, domain.Requirement{
			ID:     "req-crud-" + strings.ToLower(e.Name),
			Text:   fmt.Sprintf("Support CRUD operations on %s", e.Name),
			Domain: "crud",
			Kind:   domain.RequirementFunctional,
		})
	}
	for _, ep := range endpoints {
		reqs = append(reqs, domain.Requirement{
			ID:     fmt.Sprintf("req-endpoint-%s-%s", strings.ToLower(string(ep.Method)), ep.OperationID),
			Text:   fmt.Sprintf("Expose %s %s", ep.Method, ep.Path),
			Domain: "crud",
			Kind:   domain.RequirementFunctional,
		})
	}
	return reqs
}

var businessLogicLine = regexp.MustCompile(`(?m)^\s*(?:Rule|Constraint):\s*(.+)$`)

func extractBusinessLogicNotes(text string) []string {
	var notes []string
	for _, m := range businessLogicLine.FindAllStringSubmatch(text, -1) {
		notes = append(notes, strings.TrimSpace(m[1]))
	}
	return notes
}
