// ABOUTME: Vector math for embeddings: truncation, L2 normalisation and cosine distance
// ABOUTME: Accumulates in float64 to keep normalisation stable for 1536-dim float32 vectors
package util

import "math"

// Truncate keeps the first dims components; shorter vectors are returned unchanged
func Truncate(v []float32, dims int) []float32 {
	if dims <= 0 || len(v) <= dims {
		return v
	}
	out := make([]float32, dims)
	copy(out, v[:dims])
	return out
}

// L2Norm returns the Euclidean length of v
func L2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// L2Normalize scales v to unit length. A zero vector is returned unchanged.
func L2Normalize(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	norm := L2Norm(v)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b (0 on length mismatch or zero norm)
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance is 1 - CosineSimilarity; 0 is identical, 2 is opposite
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}
