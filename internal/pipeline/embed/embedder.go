package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder converts text into fixed-dimension vectors. D is a global
// deploy-time constant that must match the vector index's configured
// dimension.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	Ping(ctx context.Context) error
}

// DeterministicEmbedder hashes byte trigrams into a fixed-size vector. It is
// not a real embedding model; it exists so the pipeline is exercisable
// without a live model endpoint, and so idempotence tests can assert
// bit-identical vectors across retries.
type DeterministicEmbedder struct {
	dim  int
	name string
}

func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return &DeterministicEmbedder{dim: dim, name: "deterministic-test-embedder"}
}

func (d *DeterministicEmbedder) Name() string   { return d.name }
func (d *DeterministicEmbedder) Dimension() int { return d.dim }
func (d *DeterministicEmbedder) Ping(context.Context) error { return nil }

func (d *DeterministicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *DeterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		hashInto(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			hashInto(b[i:i+3], v)
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func hashInto(gram []byte, v []float32) {
	h := fnv.New64a()
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
