package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/signalnine/trialmatrix/internal/stats"
)

func TestWilsonIntervalZeroTotal(t *testing.T) {
	low, high := stats.WilsonInterval(0, 0, stats.DefaultConfidence)
	assert.Equal(t, 0.0, low)
	assert.Equal(t, 0.0, high)
}

func TestWilsonIntervalKnownValues(t *testing.T) {
	tests := []struct {
		name       string
		successes  int
		total      int
		confidence float64
		wantLow    float64
		wantHigh   float64
	}{
		{"3 of 5 at 95%", 3, 5, 0.95, 0.2307, 0.8824},
		{"50 of 100 at 95%", 50, 100, 0.95, 0.4038, 0.5962},
		{"0 of 10 at 95%", 0, 10, 0.95, 0.0, 0.2775},
		{"8 of 10 at 99%", 8, 10, 0.99, 0.4008, 0.9599},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low, high := stats.WilsonInterval(tt.successes, tt.total, tt.confidence)
			assert.InDelta(t, tt.wantLow, low, 1e-3)
			assert.InDelta(t, tt.wantHigh, high, 1e-3)
		})
	}
}

func TestWilsonIntervalAllSuccesses(t *testing.T) {
	for _, n := range []int{1, 2, 5, 30, 1000} {
		_, high := stats.WilsonInterval(n, n, stats.DefaultConfidence)
		assert.Equal(t, 1.0, high, "n=%d", n)
	}
}

func TestWilsonIntervalUnknownConfidenceUses95(t *testing.T) {
	l1, h1 := stats.WilsonInterval(7, 20, 0.9)
	l2, h2 := stats.WilsonInterval(7, 20, 0.95)
	assert.Equal(t, l2, l1)
	assert.Equal(t, h2, h1)
}

func TestWilsonIntervalBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(0, 5000).Draw(t, "total")
		successes := rapid.IntRange(0, total).Draw(t, "successes")
		confidence := rapid.SampledFrom([]float64{0.95, 0.99}).Draw(t, "confidence")

		low, high := stats.WilsonInterval(successes, total, confidence)
		if low < 0 || high > 1 || low > high {
			t.Fatalf("interval (%v, %v) out of order or outside [0,1]", low, high)
		}
	})
}

func TestWilsonIntervalNarrowsWithSampleSize(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		num := rapid.IntRange(0, 10).Draw(t, "num")
		den := 10
		scale := rapid.IntRange(1, 50).Draw(t, "scale")

		l1, h1 := stats.WilsonInterval(num*scale, den*scale, 0.95)
		l2, h2 := stats.WilsonInterval(num*scale*2, den*scale*2, 0.95)
		if h2-l2 >= h1-l1 {
			t.Fatalf("width did not shrink: n=%d width=%v, n=%d width=%v", den*scale, h1-l1, den*scale*2, h2-l2)
		}
	})
}

func TestPassRate(t *testing.T) {
	assert.Equal(t, 0.0, stats.PassRate(0, 0))
	assert.Equal(t, 0.6, stats.PassRate(3, 2))
	assert.Equal(t, 1.0, stats.PassRate(4, 0))
}
