package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalProvider is a deterministic bag-of-words hashing embedder. It needs
// no network access, which makes it useful for tests and offline runs. Two
// texts sharing vocabulary produce nearby vectors; it is not a substitute
// for a real semantic model.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a local hashing embedder
func NewLocalProvider(dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = 64
	}
	return &LocalProvider{dimension: dimension}
}

// Dimension returns the embedding dimensionality
func (p *LocalProvider) Dimension() int {
	return p.dimension
}

// Embed hashes each token into a bucket and L2-normalizes the counts.
// The task type does not change the output; query and document modes
// only differ for instruction-tuned remote models.
func (p *LocalProvider) Embed(_ context.Context, text string, _ TaskType) ([]float32, error) {
	vec := make([]float32, p.dimension)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%p.dimension]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}

	return vec, nil
}
