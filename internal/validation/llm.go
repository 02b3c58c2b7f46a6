package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"devmatrix.dev/core/common/llm"
	"devmatrix.dev/core/common/retry"
	"devmatrix.dev/core/internal/domain"
)

// ruleItem is the structured shape each LLM extraction call must return,
// schema-constrained via llm.GenerateSchema (grounded on the teacher's
// KeywordsResponse/KeywordItem pattern in internal/brain/keywords.go).
type ruleItem struct {
	Entity     string  `json:"entity"`
	Attribute  string  `json:"attribute"`
	Kind       string  `json:"kind" jsonschema:"enum=presence,enum=format,enum=uniqueness,enum=range,enum=relationship,enum=stock_constraint,enum=workflow_constraint,enum=status_transition"`
	Condition  string  `json:"condition"`
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
}

type rulesResponse struct {
	Rules []ruleItem `json:"rules"`
}

var rulesSchema = llm.GenerateSchema[rulesResponse]()

const llmConfidenceDefault = 0.75

// LLMStage runs the three specialized prompts from spec §4.2 Stage C:
// field-level (per entity), endpoint-level (per entity's endpoints,
// batched), and cross-entity (once per run).
type LLMStage struct {
	Client llm.Client
}

func (s LLMStage) Name() domain.ProvenanceSource { return domain.ProvenanceLLM }

func (s LLMStage) Extract(in Input) ([]domain.ValidationRule, error) {
	ctx := context.Background()
	var rules []domain.ValidationRule

	for _, entity := range in.Entities {
		items, err := s.call(ctx, fieldLevelSystemPrompt, fieldLevelUserPrompt(entity), "field_level_rules")
		if err != nil {
			slog.Warn("field-level validation extraction failed, contributing empty rule set", "entity", entity.Name, "error", err)
			continue
		}
		rules = append(rules, toRules(entity.Name, items)...)
	}

	endpointsByEntity := groupEndpointsByEntity(in.Endpoints)
	for entityName, endpoints := range endpointsByEntity {
		items, err := s.call(ctx, endpointLevelSystemPrompt, endpointLevelUserPrompt(entityName, endpoints), "endpoint_level_rules")
		if err != nil {
			slog.Warn("endpoint-level validation extraction failed, contributing empty rule set", "entity", entityName, "error", err)
			continue
		}
		rules = append(rules, toRules(entityName, items)...)
	}

	items, err := s.call(ctx, crossEntitySystemPrompt, crossEntityUserPrompt(in.Entities), "cross_entity_rules")
	if err != nil {
		slog.Warn("cross-entity validation extraction failed, contributing empty rule set", "error", err)
	} else {
		rules = append(rules, toRules("", items)...)
	}

	return rules, nil
}

// call invokes the LLM with deterministic parameters, parsing the response
// and retrying on structured-parse failure up to three times with
// exponential backoff (spec §4.2 step 4; §7 structured-parse policy).
func (s LLMStage) call(ctx context.Context, systemPrompt, userPrompt, schemaName string) ([]ruleItem, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("no LLM client configured")
	}

	resp, err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context, attempt int) (rulesResponse, error) {
		var out rulesResponse
		_, callErr := s.Client.Chat(ctx, llm.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			SchemaName:   schemaName,
			Schema:       rulesSchema,
			Temperature:  llm.Temp(0),
		}, &out)
		if callErr != nil {
			if llm.IsRetryable(ctx, callErr) {
				return rulesResponse{}, callErr
			}
			return rulesResponse{}, retry.Permanent(callErr)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("llm validation extraction: %w", err)
	}
	return resp.Rules, nil
}

func toRules(defaultEntity string, items []ruleItem) []domain.ValidationRule {
	rules := make([]domain.ValidationRule, 0, len(items))
	for _, it := range items {
		entity := it.Entity
		if entity == "" {
			entity = defaultEntity
		}
		confidence := it.Confidence
		if confidence == 0 {
			confidence = llmConfidenceDefault
		}
		rules = append(rules, domain.ValidationRule{
			Entity:    entity,
			Attribute: it.Attribute,
			Kind:      domain.ValidationKind(it.Kind),
			Condition: it.Condition,
			Message:   it.Message,
			Provenance: domain.Provenance{
				Source:     domain.ProvenanceLLM,
				Confidence: confidence,
				Rationale:  "llm-inferred",
			},
		})
	}
	return rules
}

func groupEndpointsByEntity(endpoints []domain.Endpoint) map[string][]domain.Endpoint {
	out := map[string][]domain.Endpoint{}
	for _, ep := range endpoints {
		key := ep.RequestEntity
		out[key] = append(out[key], ep)
	}
	return out
}

const fieldLevelSystemPrompt = `You extract validation rules from entity field definitions.

Categories: presence, format, uniqueness, range, relationship.

Rules:
- UUID fields imply format=uuid.
- DateTime fields imply format=ISO-8601.
- Only emit rules grounded in the field's declared type, name, or constraints.
- Do NOT invent constraints absent from the field definition.

Respond with the required JSON schema only.`

func fieldLevelUserPrompt(entity domain.Entity) string {
	b, _ := json.Marshal(entity)
	return "Entity:\n" + string(b)
}

const endpointLevelSystemPrompt = `You extract validation rules from HTTP endpoint definitions for one entity.

Emit request-body presence/format rules, content-type format rules, and
response-schema conformance rules. A 409 response implies a uniqueness rule
on a field. A 401/403 response implies an authorization workflow_constraint.

Respond with the required JSON schema only.`

func endpointLevelUserPrompt(entity string, endpoints []domain.Endpoint) string {
	b, _ := json.Marshal(struct {
		Entity    string            `json:"entity"`
		Endpoints []domain.Endpoint `json:"endpoints"`
	}{entity, endpoints})
	return string(b)
}

const crossEntitySystemPrompt = `You extract cross-entity validation rules: relationship, stock_constraint,
workflow_constraint, and status_transition rules based on foreign keys and
stateful fields across the full entity set.

Respond with the required JSON schema only.`

func crossEntityUserPrompt(entities []domain.Entity) string {
	b, _ := json.Marshal(entities)
	return "Entities:\n" + string(b)
}
