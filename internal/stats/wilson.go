package stats

import "math"

// DefaultConfidence is the confidence level used for group summaries.
const DefaultConfidence = 0.95

// ZScore returns the two-sided normal quantile for a confidence level.
// Only 0.95 and 0.99 are tabulated; anything else uses the 95% value.
func ZScore(confidence float64) float64 {
	if confidence == 0.99 {
		return 2.576
	}
	return 1.96
}

// WilsonInterval returns the Wilson score interval for successes out of total
// trials. The bounds always lie in [0, 1]; total == 0 yields (0, 0).
func WilsonInterval(successes, total int, confidence float64) (low, high float64) {
	if total <= 0 {
		return 0, 0
	}
	if successes < 0 {
		successes = 0
	}
	if successes > total {
		successes = total
	}

	n := float64(total)
	p := float64(successes) / n
	z := ZScore(confidence)
	z2 := z * z

	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	margin := (z / denom) * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	low, high = clamp01(center-margin), clamp01(center+margin)
	// The closed form hits the boundary exactly at p == 0 and p == 1, but
	// rounding can leave it a few ulps short.
	if successes == 0 {
		low = 0
	}
	if successes == total {
		high = 1
	}
	return low, high
}

// PassRate is passed / (passed + failed), or 0 when nothing was judged.
func PassRate(passed, failed int) float64 {
	judged := passed + failed
	if judged <= 0 {
		return 0
	}
	return float64(passed) / float64(judged)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
