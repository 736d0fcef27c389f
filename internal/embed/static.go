package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// StaticEmbedder produces deterministic embeddings from token hashes. It
// needs no network and gives identical text identical vectors, which keeps
// offline indexing and tests reproducible. Similarity quality is limited to
// lexical overlap.
type StaticEmbedder struct {
	dimensions int
}

// NewStaticEmbedder creates a deterministic offline embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{dimensions: StaticDimensions}
}

// Embed hashes each whitespace token into a bucket and normalizes the
// resulting term-frequency vector.
func (s *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dimensions)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := sha256.Sum256([]byte(token))
		bucket := binary.BigEndian.Uint32(h[:4]) % uint32(s.dimensions)
		// Signed buckets reduce collisions between unrelated token sets.
		if h[4]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}
	return normalizeVector(vec), nil
}

// EmbedBatch embeds each text independently.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func (s *StaticEmbedder) Dimensions() int { return s.dimensions }

func (s *StaticEmbedder) ModelName() string { return "static-hash" }

func (s *StaticEmbedder) Available(_ context.Context) bool { return true }

func (s *StaticEmbedder) Close() error { return nil }
