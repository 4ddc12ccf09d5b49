package providers

// NormalizeScore rescales a raw backend score into [0,1] given the range the
// adapter observed in the same response. A degenerate range yields 0.5 so a
// single result is neither best nor worst.
func NormalizeScore(x, min, max float64) float64 {
	if max <= min {
		return 0.5
	}
	s := (x - min) / (max - min)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Clamp01 bounds a similarity score to [0,1]. Backends whose metric can
// leave that range (dot product, unnormalized cosine) go through this before
// results reach the aggregator.
func Clamp01(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// PositionScore converts a 0-based rank within a page of n results into a
// score: the top result gets 1.0, the last gets 1/n.
func PositionScore(rank, n int) float64 {
	if n <= 0 || rank < 0 || rank >= n {
		return 0
	}
	return float64(n-rank) / float64(n)
}
