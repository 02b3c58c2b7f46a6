// Package embedcache implements the process-wide, read-mostly embedding
// cache named in spec §5 ("Pre-computed embeddings: process-wide cache,
// read-mostly") and persisted per spec §12.3 of SPEC_FULL.md as a two-tier
// cache: an in-process LRU in front of a Redis-backed tier.
package embedcache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"devmatrix.dev/core/common/llm"
)

// Cache wraps an Embedder with a two-tier cache keyed by a stable hash of
// the input text.
type Cache struct {
	embedder llm.Embedder
	local    *lru.Cache[uint64, []float32]
	redis    *redis.Client // optional; nil disables the remote tier
}

// New builds a Cache with an in-process LRU of the given size in front of
// an optional Redis client.
func New(embedder llm.Embedder, localSize int, redisClient *redis.Client) (*Cache, error) {
	if localSize <= 0 {
		localSize = 4096
	}
	local, err := lru.New[uint64, []float32](localSize)
	if err != nil {
		return nil, fmt.Errorf("building local embedding cache: %w", err)
	}
	return &Cache{embedder: embedder, local: local, redis: redisClient}, nil
}

// Embed returns the cached embedding for text, computing and storing it on
// a miss.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := Hash(text)

	if vec, ok := c.local.Get(key); ok {
		return vec, nil
	}

	if c.redis != nil {
		if raw, err := c.redis.Get(ctx, redisKey(key)).Bytes(); err == nil {
			var vec []float32
			if jsonErr := json.Unmarshal(raw, &vec); jsonErr == nil {
				c.local.Add(key, vec)
				return vec, nil
			}
		}
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.local.Add(key, vec)
	if c.redis != nil {
		if raw, err := json.Marshal(vec); err == nil {
			_ = c.redis.Set(ctx, redisKey(key), raw, 0).Err()
		}
	}
	return vec, nil
}

func redisKey(h uint64) string {
	return fmt.Sprintf("devmatrix:embedcache:%016x", h)
}

// Hash is the FNV-1a 64-bit digest used both as the cache key and as the
// AtomicTask.Hash in spec §3/§4.5 ("stable 64-bit digest over the
// canonicalized projection").
func Hash(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// CosineSimilarity computes cosine similarity between two equal-length
// embedding vectors, per spec §4.5's `cosine(e1, e2) >= 0.85` threshold.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// encodeFloat32s/decodeFloat32s convert an embedding to and from a packed
// little-endian float32 buffer. Nothing in the module calls them; the
// vector and graph stores exchange embeddings as JSON arrays.
func encodeFloat32s(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
