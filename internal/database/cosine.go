package database

import (
	"fmt"
	"math"
)

// Metric names accepted by DistanceFunc.
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
)

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity
}

// EuclideanDistance computes the L2 distance between two vectors.
// Mismatched or empty input yields +Inf so it can never win a nearest-match search.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// DistanceFunc returns the distance function for a metric name.
func DistanceFunc(metric string) (func(a, b []float32) float64, error) {
	switch metric {
	case MetricCosine, "":
		return CosineDistance, nil
	case MetricEuclidean:
		return EuclideanDistance, nil
	default:
		return nil, fmt.Errorf("unknown distance metric %q", metric)
	}
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
