package recognition

import (
	"context"
	"math"
	"testing"
)

func TestEmbeddingRoundTrip(t *testing.T) {
	values := []float32{0.1, -0.5, 3.25, 0, 1e-7}

	descriptor := encodeEmbedding(values)
	if descriptor == "" {
		t.Fatal("Expected a non-empty descriptor")
	}

	decoded, err := decodeEmbedding(descriptor)
	if err != nil {
		t.Fatalf("decodeEmbedding failed: %v", err)
	}
	if len(decoded) != len(values) {
		t.Fatalf("Expected %d values, got %d", len(values), len(decoded))
	}
	for i := range values {
		if decoded[i] != values[i] {
			t.Errorf("Value %d: expected %v, got %v", i, values[i], decoded[i])
		}
	}
}

func TestDecodeEmbeddingMalformed(t *testing.T) {
	for _, input := range []string{"", "???", "QUJD"} { // QUJD is 3 bytes, not a multiple of 4
		if _, err := decodeEmbedding(input); err == nil {
			t.Errorf("Expected error for %q", input)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamps to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestVertexCompareLocal(t *testing.T) {
	// cloud_c comparison is local cosine similarity over decoded vectors; no
	// backend round trip is involved.
	c := &vertexClient{}
	ctx := context.Background()

	same := encodeEmbedding([]float32{0.5, 0.5, 0.5})
	other := encodeEmbedding([]float32{-0.5, 0.5, -0.5})

	if got := c.Compare(ctx, same, same, nil); math.Abs(got-1) > 1e-9 {
		t.Errorf("Expected 1 for identical vectors, got %v", got)
	}

	got := c.Compare(ctx, same, other, nil)
	if got < 0 || got > 1 {
		t.Errorf("Similarity %v out of [0,1]", got)
	}

	if got := c.Compare(ctx, "garbage!!!", same, nil); got != 0 {
		t.Errorf("Expected 0 for malformed descriptor, got %v", got)
	}
	if got := c.Compare(ctx, same, "", nil); got != 0 {
		t.Errorf("Expected 0 for missing candidate descriptor, got %v", got)
	}
}
