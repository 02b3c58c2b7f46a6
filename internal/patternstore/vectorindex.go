package patternstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"

	"devmatrix.dev/core/internal/domain"
)

const collectionName = "devmatrix_patterns"

// VectorIndex is the vector-search side of the Pattern Store's storage
// (spec §4.7: "dense vector index keyed by signature hash"). Grounded on
// the teacher's `typesense://` URI convention in
// internal/retriever/code/code.go, backed here by a real typesense-go
// client instead of a mock URI string.
type VectorIndex interface {
	Upsert(ctx context.Context, p domain.Pattern) error
	Search(ctx context.Context, embedding []float32, domainTag string, topK int) ([]domain.PatternHit, error)
}

type typesenseIndex struct {
	client *typesense.Client
}

// NewTypesenseIndex builds a VectorIndex against a Typesense server,
// creating the collection schema if it does not already exist.
func NewTypesenseIndex(ctx context.Context, serverURL, apiKey string, embeddingDims int) (VectorIndex, error) {
	client := typesense.NewClient(
		typesense.WithServer(serverURL),
		typesense.WithAPIKey(apiKey),
	)

	schema := &api.CollectionSchema{
		Name: collectionName,
		Fields: []api.Field{
			{Name: "signature_hash", Type: "string"},
			{Name: "domain", Type: "string", Facet: pointer.True(true)},
			{Name: "success_rate", Type: "float"},
			{Name: "usage_count", Type: "int32"},
			{Name: "embedding", Type: "float[]", NumDim: pointer.Int(embeddingDims)},
		},
	}
	if _, err := client.Collections().Create(ctx, schema); err != nil {
		// Collection likely already exists; non-fatal, matching the
		// Graph/Vector Store Interface's "failures are non-fatal" posture
		// for setup-time conflicts (spec §6).
		_ = err
	}

	return &typesenseIndex{client: client}, nil
}

type patternDocument struct {
	ID            string    `json:"id"`
	SignatureHash string    `json:"signature_hash"`
	Domain        string    `json:"domain"`
	Artifact      string    `json:"artifact"`
	SuccessRate   float64   `json:"success_rate"`
	UsageCount    int       `json:"usage_count"`
	Embedding     []float32 `json:"embedding"`
}

func (t *typesenseIndex) Upsert(ctx context.Context, p domain.Pattern) error {
	doc := patternDocument{
		ID:            strconv.FormatUint(p.SignatureHash, 16),
		SignatureHash: strconv.FormatUint(p.SignatureHash, 16),
		Domain:        p.Domain,
		Artifact:      p.Artifact,
		SuccessRate:   p.SuccessRate,
		UsageCount:    p.UsageCount,
		Embedding:     p.Embedding,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal pattern document: %w", err)
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return fmt.Errorf("decode pattern document: %w", err)
	}
	if _, err := t.client.Collection(collectionName).Documents().Upsert(ctx, asMap); err != nil {
		return fmt.Errorf("typesense upsert: %w", err)
	}
	return nil
}

func (t *typesenseIndex) Search(ctx context.Context, embedding []float32, domainTag string, topK int) ([]domain.PatternHit, error) {
	vecStr := encodeVectorQuery(embedding)
	filter := fmt.Sprintf("domain:=%s && success_rate:>=0.95", domainTag)
	params := &api.SearchCollectionParams{
		Q:        pointer.String("*"),
		VectorQuery: pointer.String(fmt.Sprintf("embedding:(%s, k:%d)", vecStr, topK)),
		FilterBy: pointer.String(filter),
	}
	result, err := t.client.Collection(collectionName).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("typesense search: %w", err)
	}
	if result.Hits == nil {
		return nil, nil
	}

	hits := make([]domain.PatternHit, 0, len(*result.Hits))
	for _, h := range *result.Hits {
		if h.Document == nil {
			continue
		}
		raw, _ := json.Marshal(*h.Document)
		var doc patternDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		hash, _ := strconv.ParseUint(doc.SignatureHash, 16, 64)
		score := 0.0
		if h.VectorDistance != nil {
			score = 1 - float64(*h.VectorDistance)
		}
		hits = append(hits, domain.PatternHit{
			Pattern: domain.Pattern{
				SignatureHash: hash,
				Domain:        doc.Domain,
				Artifact:      doc.Artifact,
				Embedding:     doc.Embedding,
				SuccessRate:   doc.SuccessRate,
				UsageCount:    doc.UsageCount,
			},
			Score: score,
		})
	}
	return hits, nil
}

func encodeVectorQuery(embedding []float32) string {
	raw, _ := json.Marshal(embedding)
	return string(raw)
}
