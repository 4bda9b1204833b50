package retrieval

import "math"

// CosineSimilarity computes the cosine similarity between two embedding
// vectors.
//
// Formula: cos(θ) = (A · B) / (||A|| * ||B||)
//
// Returns 0.0 for invalid inputs: empty vectors, vectors of different
// lengths, or zero-magnitude vectors (avoiding the division error rather
// than propagating it).
func CosineSimilarity(vec1, vec2 []float32) float64 {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0.0
	}
	if len(vec1) != len(vec2) {
		return 0.0
	}

	var dotProduct float64
	var magnitude1 float64
	var magnitude2 float64

	for i := 0; i < len(vec1); i++ {
		v1 := float64(vec1[i])
		v2 := float64(vec2[i])
		dotProduct += v1 * v2
		magnitude1 += v1 * v1
		magnitude2 += v2 * v2
	}

	if magnitude1 == 0.0 || magnitude2 == 0.0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(magnitude1) * math.Sqrt(magnitude2))
}
