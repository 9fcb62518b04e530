// Package embeddings turns question text into vectors so learned rules can
// be retrieved by similarity.
package embeddings

import (
	"context"
	"encoding/binary"
	"math"
)

// Provider generates embeddings from text.
type Provider interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([]Vector, error)

	// Dimensions returns the embedding dimension for this model.
	Dimensions() int

	// Model returns the model identifier. Vectors from different models are
	// not comparable.
	Model() string
}

// Vector is a dense embedding vector.
type Vector []float32

// Similarity returns the cosine similarity of v and other mapped onto
// [0, 1]: negative cosines count as unrelated. Mismatched or empty vectors
// score 0.
func (v Vector) Similarity(other Vector) float64 {
	if len(v) == 0 || len(v) != len(other) {
		return 0
	}

	var dot, nv, no float64
	for i := range v {
		a, b := float64(v[i]), float64(other[i])
		dot += a * b
		nv += a * a
		no += b * b
	}
	if nv == 0 || no == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(nv) * math.Sqrt(no))
	return math.Max(0, math.Min(1, cos))
}

// Normalize returns a unit vector in the same direction.
func (v Vector) Normalize() Vector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}

	n := math.Sqrt(sum)
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// ToBytes serializes the vector as little-endian float32s.
func (v Vector) ToBytes() []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// VectorFromBytes reverses ToBytes. It returns nil for a malformed buffer.
func VectorFromBytes(b []byte) Vector {
	if len(b)%4 != 0 {
		return nil
	}
	v := make(Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, p Provider, text string) (Vector, error) {
	vs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, nil
	}
	return vs[0], nil
}
