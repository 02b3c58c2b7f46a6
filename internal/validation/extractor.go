package validation

import (
	"sort"

	"devmatrix.dev/core/internal/domain"
)

// Extractor runs the three stages and dedups the union (spec §4.2).
type Extractor struct {
	Stages []Stage
}

// NewExtractor builds the default extractor: direct, pattern, and (if a
// non-nil llmStage is supplied) llm stages.
func NewExtractor(llmStage Stage) Extractor {
	stages := []Stage{DirectStage{}, NewPatternStage()}
	if llmStage != nil {
		stages = append(stages, llmStage)
	}
	return Extractor{Stages: stages}
}

// Extract runs every stage and dedups the union into a ValidationRuleSet.
// Any individual stage may fail silently (spec §4.2 Error policy); this
// method only returns an error if gt is non-nil, zero rules were
// extracted, and coverage of gt's rules is below 1.
func (e Extractor) Extract(in Input, gt *domain.GroundTruth) (domain.ValidationRuleSet, error) {
	var all []domain.ValidationRule
	for _, stage := range e.Stages {
		rules, err := stage.Extract(in)
		if err != nil {
			continue // stage failure contributes nothing; not fatal (spec §4.2)
		}
		all = append(all, rules...)
	}

	deduped := Dedup(all)

	result := domain.ValidationRuleSet{Rules: deduped}
	if gt != nil {
		coverage := coverageFraction(deduped, gt.ValidationRules)
		result.Coverage = &coverage
		if len(deduped) == 0 && coverage < 1 {
			return result, domain.NewFatalError(domain.ErrorInvariant, domain.ErrSpecMalformed)
		}
	}
	return result, nil
}

// Dedup groups rules by (entity, attribute, kind); the dedup group's
// survivor is the highest-provenance-priority rule, with conditions
// concatenated by AND across the group and the highest confidence
// inherited (spec §4.2 Deduplication; spec §8 properties 3 & 4).
func Dedup(rules []domain.ValidationRule) []domain.ValidationRule {
	groups := map[domain.ValidationRuleKey][]domain.ValidationRule{}
	var order []domain.ValidationRuleKey
	for _, r := range rules {
		key := r.Key()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	out := make([]domain.ValidationRule, 0, len(order))
	for _, key := range order {
		out = append(out, mergeGroup(groups[key]))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		if out[i].Attribute != out[j].Attribute {
			return out[i].Attribute < out[j].Attribute
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func mergeGroup(group []domain.ValidationRule) domain.ValidationRule {
	survivor := group[0]
	maxConfidence := survivor.Provenance.Confidence
	condition := survivor.Condition

	for _, r := range group[1:] {
		if r.Provenance.Source.Higher(survivor.Provenance.Source) {
			survivor = r
		}
		if r.Provenance.Confidence > maxConfidence {
			maxConfidence = r.Provenance.Confidence
		}
		if r.Condition != "" && r.Condition != condition {
			if condition == "" {
				condition = r.Condition
			} else {
				condition = condition + " AND " + r.Condition
			}
		}
	}

	survivor.Condition = condition
	survivor.Provenance.Confidence = maxConfidence
	return survivor
}

func coverageFraction(rules []domain.ValidationRule, required []domain.ValidationRuleKey) float64 {
	if len(required) == 0 {
		return 1
	}
	present := map[domain.ValidationRuleKey]bool{}
	for _, r := range rules {
		present[r.Key()] = true
	}
	matched := 0
	for _, k := range required {
		if present[k] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
