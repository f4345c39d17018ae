package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/zatekoja/amrguard/internal/domain/providers"
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// HashingEmbedder maps tokens into a fixed number of buckets. It needs no
// model and is used for offline runs and tests.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates a feature-hashing embedder
func NewHashingEmbedder(dims int) providers.EmbeddingProvider {
	if dims <= 0 {
		dims = 256
	}
	return &HashingEmbedder{dims: dims}
}

// Name returns the provider name
func (e *HashingEmbedder) Name() string {
	return "hashing"
}

// Embed returns an L2-normalised bag-of-words vector
func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
