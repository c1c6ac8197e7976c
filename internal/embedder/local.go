package embedder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	// LocalModel identifies vectors produced by the hashing backend
	LocalModel = "local-hash-v1"

	LocalDimension = 384
)

// hashingBackend is an offline embedder using signed feature hashing over
// lowercased word unigrams and bigrams. Texts sharing vocabulary get similar
// vectors, which is enough for development and tests.
type hashingBackend struct {
	dimension int
}

func (h *hashingBackend) embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *hashingBackend) vector(text string) []float32 {
	vec := make([]float32, h.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	add := func(feature string, weight float32) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(feature))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dimension))
		if sum>>63 == 1 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}
	return vec
}

func (h *hashingBackend) close() {}
