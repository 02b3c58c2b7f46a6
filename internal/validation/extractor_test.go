package validation_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/validation"
)

func intPtr(i int) *int { return &i }

// TestExtract_ScenarioA_MinimalCRUD mirrors the seed scenario: a single User
// entity with id/email/name constraints must yield exactly 8 deduplicated
// rules.
func TestExtract_ScenarioA_MinimalCRUD(t *testing.T) {
	user := domain.Entity{
		Name: "User",
		Fields: []domain.Field{
			{Name: "id", Type: "UUID", Required: true, Unique: true, Constraints: domain.FieldConstraints{Format: "uuid"}},
			{Name: "email", Type: "String", Required: true, Unique: true, Constraints: domain.FieldConstraints{Format: "email"}},
			{Name: "name", Type: "String", Required: true, Constraints: domain.FieldConstraints{MinLength: intPtr(2), MaxLength: intPtr(100)}},
		},
	}

	extractor := validation.NewExtractor(nil)
	set, err := extractor.Extract(validation.Input{Entities: []domain.Entity{user}}, nil)
	require.NoError(t, err)
	require.Len(t, set.Rules, 8)

	byKey := map[domain.ValidationRuleKey]domain.ValidationRule{}
	for _, r := range set.Rules {
		byKey[r.Key()] = r
	}

	require.Contains(t, byKey, domain.ValidationRuleKey{Entity: "User", Attribute: "id", Kind: domain.ValidationUniqueness})
	require.Contains(t, byKey, domain.ValidationRuleKey{Entity: "User", Attribute: "id", Kind: domain.ValidationPresence})
	require.Contains(t, byKey, domain.ValidationRuleKey{Entity: "User", Attribute: "id", Kind: domain.ValidationFormat})
	require.Contains(t, byKey, domain.ValidationRuleKey{Entity: "User", Attribute: "email", Kind: domain.ValidationPresence})
	require.Contains(t, byKey, domain.ValidationRuleKey{Entity: "User", Attribute: "email", Kind: domain.ValidationUniqueness})
	require.Contains(t, byKey, domain.ValidationRuleKey{Entity: "User", Attribute: "email", Kind: domain.ValidationFormat})
	require.Contains(t, byKey, domain.ValidationRuleKey{Entity: "User", Attribute: "name", Kind: domain.ValidationPresence})
	require.Contains(t, byKey, domain.ValidationRuleKey{Entity: "User", Attribute: "name", Kind: domain.ValidationRange})
}

// TestDedup_ScenarioC_ProvenancePriority mirrors the seed scenario: the same
// rule emitted by direct, pattern, and llm stages must survive as the
// direct-provenance rule with conditions concatenated by AND.
func TestDedup_ScenarioC_ProvenancePriority(t *testing.T) {
	rules := []domain.ValidationRule{
		{Entity: "User", Attribute: "email", Kind: domain.ValidationUniqueness, Condition: "unique: true", Provenance: domain.Provenance{Source: domain.ProvenanceDirect, Confidence: 0.95}},
		{Entity: "User", Attribute: "email", Kind: domain.ValidationUniqueness, Condition: "unique constraint on email column", Provenance: domain.Provenance{Source: domain.ProvenancePattern, Confidence: 0.85}},
		{Entity: "User", Attribute: "email", Kind: domain.ValidationUniqueness, Condition: "", Provenance: domain.Provenance{Source: domain.ProvenanceLLM, Confidence: 0.99}},
	}

	deduped := validation.Dedup(rules)
	require.Len(t, deduped, 1)
	survivor := deduped[0]
	require.Equal(t, domain.ProvenanceDirect, survivor.Provenance.Source)
	require.Equal(t, 0.99, survivor.Provenance.Confidence)
	require.Contains(t, survivor.Condition, "unique: true")
	require.Contains(t, survivor.Condition, "unique constraint on email column")
}

func TestDedup_Uniqueness(t *testing.T) {
	rules := []domain.ValidationRule{
		{Entity: "A", Attribute: "x", Kind: domain.ValidationPresence, Provenance: domain.Provenance{Source: domain.ProvenanceDirect}},
		{Entity: "A", Attribute: "x", Kind: domain.ValidationPresence, Provenance: domain.Provenance{Source: domain.ProvenancePattern}},
		{Entity: "A", Attribute: "y", Kind: domain.ValidationPresence, Provenance: domain.Provenance{Source: domain.ProvenanceDirect}},
	}
	deduped := validation.Dedup(rules)
	seen := map[domain.ValidationRuleKey]bool{}
	for _, r := range deduped {
		require.False(t, seen[r.Key()], "duplicate key %+v", r.Key())
		seen[r.Key()] = true
	}
	require.Len(t, deduped, 2)
}
