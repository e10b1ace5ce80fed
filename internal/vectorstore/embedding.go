package vectorstore

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/philippgille/chromem-go"
)

const localEmbeddingDims = 128

// localEmbeddingFunc hashes character trigrams into a fixed-size
// normalized vector. It is not semantically meaningful the way a
// model-backed embedding is, but it is deterministic, dependency-free,
// and similar texts land near each other, which is enough for tests
// and air-gapped deployments.
func localEmbeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec := make([]float32, localEmbeddingDims)

		normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
		runes := []rune(normalized)
		if len(runes) < 3 {
			runes = append(runes, ' ', ' ', ' ')
		}

		for i := 0; i+3 <= len(runes); i++ {
			h := fnv.New32a()
			_, _ = h.Write([]byte(string(runes[i : i+3])))
			bucket := h.Sum32() % localEmbeddingDims
			vec[bucket]++
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}
