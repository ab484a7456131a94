package recognition

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"
)

// The local fallback needs no external service. It hashes the leading bytes
// of the photo payload into a fixed-length pseudo-descriptor, so it only
// catches near-byte-identical uploads, not true facial similarity. Its
// similarity scores are scaled down accordingly so it can never report the
// confidence a real backend would.
const (
	// hashPrefixBytes is how much of the payload feeds the hash.
	hashPrefixBytes = 1024
	// hashChunks is the number of rolling-hash windows, one output byte each.
	hashChunks = 16

	// localExactMatchScore is reported for identical hashes. High enough to
	// clear any sane threshold, below 1.0 because byte equality is still not
	// proof of identity.
	localExactMatchScore = 0.90
	// localSimilarityCeiling caps scores for non-identical hashes.
	localSimilarityCeiling = 0.55
)

type localRecognizer struct{}

func newLocalRecognizer() *localRecognizer {
	return &localRecognizer{}
}

func (l *localRecognizer) Type() ProviderType {
	return TypeLocalFallback
}

func (l *localRecognizer) DescriptorTTL() time.Duration {
	return 0
}

// Extract hashes the raw payload. It fails only when the payload itself is
// unreachable (remote photo that cannot be fetched).
func (l *localRecognizer) Extract(ctx context.Context, img *Image) (string, error) {
	data, err := img.Bytes(ctx)
	if err != nil {
		return "", fmt.Errorf("local fallback could not read image: %w", err)
	}
	return rollingHash(data), nil
}

func (l *localRecognizer) Compare(ctx context.Context, descriptorA, descriptorB string, candidateImage *Image) float64 {
	if descriptorB == "" && candidateImage != nil {
		fresh, err := l.Extract(ctx, candidateImage)
		if err != nil {
			return 0
		}
		descriptorB = fresh
	}
	return hashSimilarity(descriptorA, descriptorB)
}

// rollingHash computes a deterministic pseudo-descriptor from the first
// hashPrefixBytes of data: the prefix is split into hashChunks windows, each
// reduced by a polynomial rolling hash to one byte, hex-encoded into a
// fixed 2*hashChunks-character string.
func rollingHash(data []byte) string {
	if len(data) > hashPrefixBytes {
		data = data[:hashPrefixBytes]
	}

	out := make([]byte, hashChunks)
	chunkSize := hashPrefixBytes / hashChunks
	for i := range hashChunks {
		start := i * chunkSize
		if start >= len(data) {
			break
		}
		end := min(start+chunkSize, len(data))

		var h uint32
		for _, b := range data[start:end] {
			h = h*131 + uint32(b)
		}
		out[i] = byte(h ^ h>>8 ^ h>>16 ^ h>>24)
	}

	return hex.EncodeToString(out)
}

// hashSimilarity scores two pseudo-descriptors. Identical hashes get the
// fixed exact-match score; everything else maps normalized edit distance
// into [0, localSimilarityCeiling). Symmetric in its arguments.
func hashSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return localExactMatchScore
	}

	longest := max(len(a), len(b))
	dist := levenshtein(a, b)
	return (1 - float64(dist)/float64(longest)) * localSimilarityCeiling
}

// levenshtein computes edit distance with the classic two-row dynamic
// program.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
