package distance

import "math"

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm calculates the L2 norm (magnitude) of a vector.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// Cosine calculates the cosine distance between two vectors:
//
//	distance = 1 - cosine_similarity(a, b)
//
// The result is clamped to [0, 2]. Identical directions yield ~0,
// orthogonal vectors 1, opposite directions 2.
//
// If either vector has zero magnitude the cosine is undefined; we return 1
// (worst-but-finite) so degenerate vectors never rank as perfect matches.
func Cosine(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	d := 1 - dot/float32(math.Sqrt(float64(normA)*float64(normB)))
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}
