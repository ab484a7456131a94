package recognition

import "math"

// cosineSimilarity computes cosine similarity between two vectors, clamped to
// [0, 1]. Negative cosine (vectors pointing apart) is no evidence of a match
// and collapses to 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to handle floating point errors.
	if similarity > 1 {
		similarity = 1
	}
	if similarity < 0 {
		similarity = 0
	}

	return similarity
}
