package embedders

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"github.com/universalis-sim/universalis/pkg/config"
)

// HashEmbedder produces a deterministic, dependency-free embedding by
// hashing n-grams of the input text into a fixed-size vector. It has no
// semantic quality, but makes retrieve_associative's similarity ranking
// reproducible without any external service — useful for development and
// for tests that must not depend on network access.
type HashEmbedder struct {
	dimension int
	model     string
}

// NewHashEmbedderFromConfig builds a HashEmbedder from configuration.
func NewHashEmbedderFromConfig(cfg *config.EmbedderProviderConfig) (*HashEmbedder, error) {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dimension: dim, model: "hash-ngram"}, nil
}

// Embed hashes whitespace-separated tokens of text into buckets of the
// output vector, accumulating a signed contribution per occurrence so that
// texts sharing tokens land closer together under cosine/dot similarity.
func (e *HashEmbedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint64(sum[0:8]) % uint64(e.dimension)
		sign := float32(1)
		if sum[8]&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] *= norm
	}
}

// GetDimension returns the configured vector dimension.
func (e *HashEmbedder) GetDimension() int { return e.dimension }

// GetModelName identifies this embedder in logs and memory metadata.
func (e *HashEmbedder) GetModelName() string { return e.model }

// Close is a no-op; HashEmbedder holds no external resources.
func (e *HashEmbedder) Close() error { return nil }
