// Package framestats measures the rate and regularity of rendered frames.
package framestats

import (
	"math"
	"time"
)

const (
	// A stream is stable when the FPS standard deviation stays under 15% of
	// the mean and the mean jitter under 20% of the expected interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// FPSStats summarizes frame timing over a window.
type FPSStats struct {
	Frames   int
	Duration time.Duration

	FPSMean   float64
	FPSStdDev float64
	FPSMin    float64
	FPSMax    float64

	// Jitter values are in seconds.
	JitterMean   float64
	JitterStdDev float64
	JitterMax    float64

	IsStable bool
}

// CalculateFPSStats computes FPS and jitter statistics from frame timestamps
// observed over window.
func CalculateFPSStats(frameTimes []time.Time, window time.Duration) FPSStats {
	n := len(frameTimes)
	stats := FPSStats{Frames: n, Duration: window}

	if n == 0 || window <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / window.Seconds()

	intervals := make([]float64, 0, n-1)
	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		intervals = append(intervals, interval)
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}

	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instantaneous[0], instantaneous[0]
	for _, fps := range instantaneous {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
	}
	stats.FPSStdDev = stddev(instantaneous, stats.FPSMean)

	expected := 1.0 / stats.FPSMean
	jitters := make([]float64, len(intervals))
	var sum float64
	for i, interval := range intervals {
		jitters[i] = math.Abs(interval - expected)
		sum += jitters[i]
		stats.JitterMax = math.Max(stats.JitterMax, jitters[i])
	}
	stats.JitterMean = sum / float64(len(jitters))
	stats.JitterStdDev = stddev(jitters, stats.JitterMean)

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold

	return stats
}

func stddev(values []float64, mean float64) float64 {
	var sumSquares float64
	for _, v := range values {
		d := v - mean
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}
