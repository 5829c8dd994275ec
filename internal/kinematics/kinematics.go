// Package kinematics implements the Kinematic Analyzer (component C1): it
// derives smoothness and entropy signals from a bounded ring of pointer
// samples, following the Shannon-entropy style of the pack's anomaly
// engine but applied to pointer motion rather than event-type counts.
package kinematics

import (
	"math"

	"github.com/attnd/attnd/internal/attnerr"
	"github.com/attnd/attnd/internal/ncd"
)

// Sample is one pointer observation. t must be strictly increasing across
// a ring for analysis to proceed; keystroke samples never enter this ring.
type Sample struct {
	X, Y float64
	T    float64 // seconds
}

// Ring is a fixed-capacity circular buffer of pointer samples, analogous
// in shape to a sliding event-count window but holding raw samples.
type Ring struct {
	buf   []Sample
	head  int
	count int
}

// NewRing creates a ring of the given capacity (spec default 1024).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]Sample, capacity)}
}

// Push appends a sample, evicting the oldest once the ring is full.
func (r *Ring) Push(s Sample) {
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Samples returns the ring contents in chronological order.
func (r *Ring) Samples() []Sample {
	out := make([]Sample, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len reports the number of samples currently held.
func (r *Ring) Len() int { return r.count }

// Metrics is the output of Analyze — KinematicMetrics in spec terms.
type Metrics struct {
	LDLJ             float64
	VelocityEntropy  float64
	CurvatureEntropy float64
	Throughput       float64
	Burstiness       float64
	NCD              float64
	IsSynthetic      bool
}

const minSamplesDefault = 4

// Analyze runs the full derivation pipeline over the ring's current
// contents. Rejects with attnerr.Parse if there are too few samples,
// timestamps are non-monotonic, or peak velocity is zero.
func Analyze(samples []Sample, minSamples int, syntheticCVLimit float64) (Metrics, error) {
	if minSamples <= 0 {
		minSamples = minSamplesDefault
	}
	if len(samples) < minSamples {
		return Metrics{}, attnerr.New(attnerr.Parse, "kinematics.Analyze", errTooFewSamples)
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].T <= samples[i-1].T {
			return Metrics{}, attnerr.New(attnerr.Parse, "kinematics.Analyze", errNonMonotonic)
		}
	}

	velocities, intervals := velocitySeries(samples)
	peak := 0.0
	for _, v := range velocities {
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return Metrics{}, attnerr.New(attnerr.Parse, "kinematics.Analyze", errZeroPeakVelocity)
	}

	accel := derivative(velocities, intervals)
	jerk := derivative(accel, intervals[:max0(len(intervals)-1)])

	totalT := 0.0
	for _, dt := range intervals {
		totalT += dt
	}

	m := Metrics{
		LDLJ:             ldlj(jerk, intervals, totalT, peak),
		VelocityEntropy:  shannonEntropy(quantize(velocities, 3)),
		CurvatureEntropy: curvatureEntropy(samples),
		Throughput:       float64(len(samples)) / math.Max(totalT, 1e-9),
		Burstiness:       burstiness(intervals),
		IsSynthetic:      isSynthetic(intervals, syntheticCVLimit),
	}
	m.NCD = ncdAgainstZeroReference(velocities)
	return m, nil
}

var (
	errTooFewSamples    = errorString("fewer than the minimum required samples")
	errNonMonotonic     = errorString("pointer timestamps are not strictly increasing")
	errZeroPeakVelocity = errorString("peak velocity is zero")
)

type errorString string

func (e errorString) Error() string { return string(e) }

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// velocitySeries returns the magnitude of displacement/time between
// consecutive samples, and the corresponding time deltas.
func velocitySeries(samples []Sample) (velocities, intervals []float64) {
	velocities = make([]float64, 0, len(samples)-1)
	intervals = make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		dt := samples[i].T - samples[i-1].T
		if dt <= 0 {
			dt = 1e-9
		}
		dx := samples[i].X - samples[i-1].X
		dy := samples[i].Y - samples[i-1].Y
		dist := math.Hypot(dx, dy)
		velocities = append(velocities, dist/dt)
		intervals = append(intervals, dt)
	}
	return velocities, intervals
}

// derivative computes a numerical derivative of series against the given
// time deltas, one element shorter than series.
func derivative(series, intervals []float64) []float64 {
	n := len(series) - 1
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		dt := intervals[i]
		if dt <= 0 {
			dt = 1e-9
		}
		out[i] = (series[i+1] - series[i]) / dt
	}
	return out
}

// ldlj computes the log-dimensionless jerk via trapezoidal integration of
// squared jerk. Returns 0 if the jerk integral is zero.
func ldlj(jerk, intervals []float64, totalT, peakVelocity float64) float64 {
	if len(jerk) == 0 {
		return 0
	}
	integral := 0.0
	for i := 1; i < len(jerk); i++ {
		dt := intervals[i]
		if dt <= 0 {
			dt = 1e-9
		}
		a := jerk[i-1] * jerk[i-1]
		b := jerk[i] * jerk[i]
		integral += 0.5 * (a + b) * dt
	}
	if integral <= 0 {
		return 0
	}
	arg := integral * totalT * totalT * totalT / (peakVelocity * peakVelocity)
	if arg <= 0 {
		return 0
	}
	return -math.Log(arg)
}

// shannonEntropy mirrors the pack's discrete-distribution entropy formula
// (H = -Σ p·log2 p) but over an arbitrary comparable-key histogram instead
// of a fixed 4-slot event-count array.
func shannonEntropy(quantized []int64) float64 {
	if len(quantized) == 0 {
		return 0
	}
	counts := make(map[int64]int, len(quantized))
	for _, q := range quantized {
		counts[q]++
	}
	total := float64(len(quantized))
	h := 0.0
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}

// quantize rounds each value to the given number of decimal places and
// returns an integer-scaled key suitable for histogram bucketing.
func quantize(values []float64, decimals int) []int64 {
	scale := math.Pow(10, float64(decimals))
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(math.Round(v * scale))
	}
	return out
}

// curvatureEntropy computes, for each consecutive triple of samples, the
// normalized cross-product magnitude between the two displacement
// vectors, then takes the Shannon entropy of that distribution quantized
// to 3 decimals.
func curvatureEntropy(samples []Sample) float64 {
	if len(samples) < 3 {
		return 0
	}
	curvatures := make([]float64, 0, len(samples)-2)
	for i := 2; i < len(samples); i++ {
		d1x, d1y := samples[i-1].X-samples[i-2].X, samples[i-1].Y-samples[i-2].Y
		d2x, d2y := samples[i].X-samples[i-1].X, samples[i].Y-samples[i-1].Y
		n1, n2 := math.Hypot(d1x, d1y), math.Hypot(d2x, d2y)
		if n1 < 1e-10 || n2 < 1e-10 {
			continue
		}
		cross := math.Abs(d1x*d2y - d1y*d2x)
		curvatures = append(curvatures, cross/(n1*n2))
	}
	return shannonEntropy(quantize(curvatures, 3))
}

// burstiness computes (σ−μ)/(σ+μ) over the interval series. Returns -1 if
// mean or stddev falls below 1e-10, matching the spec's degenerate-input
// convention.
func burstiness(intervals []float64) float64 {
	mean, std := meanStd(intervals)
	if mean < 1e-10 || std < 1e-10 {
		return -1
	}
	return (std - mean) / (std + mean)
}

// isSynthetic flags bot-like, mechanically uniform interval sequences.
func isSynthetic(intervals []float64, cvLimit float64) bool {
	if cvLimit <= 0 {
		cvLimit = 0.15
	}
	if len(intervals)+1 < 5 {
		return false
	}
	mean, std := meanStd(intervals)
	if mean < 1e-10 {
		return false
	}
	return std/mean < cvLimit
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// ncdAgainstZeroReference computes NCD between the little-endian byte
// pattern of the velocity series and an all-zero reference of equal
// length, per spec's kinematic-NCD definition.
func ncdAgainstZeroReference(velocities []float64) float64 {
	x := floatsToBytes(velocities)
	y := make([]byte, len(x))
	return ncd.NCD(x, y)
}

func floatsToBytes(values []float64) []byte {
	out := make([]byte, 0, len(values)*8)
	for _, v := range values {
		bits := math.Float64bits(v)
		for i := 0; i < 8; i++ {
			out = append(out, byte(bits>>(8*i)))
		}
	}
	return out
}
