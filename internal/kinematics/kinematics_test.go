package kinematics

import (
	"testing"

	"github.com/attnd/attnd/internal/attnerr"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeRejectsTooFewSamples(t *testing.T) {
	_, err := Analyze([]Sample{{X: 0, Y: 0, T: 0}}, 4, 0.15)
	require.Error(t, err)
	require.True(t, attnerr.Is(err, attnerr.Parse))
}

func TestAnalyzeRejectsNonMonotonic(t *testing.T) {
	samples := []Sample{
		{X: 0, Y: 0, T: 0},
		{X: 1, Y: 0, T: 1},
		{X: 2, Y: 0, T: 0.5},
		{X: 3, Y: 0, T: 2},
	}
	_, err := Analyze(samples, 4, 0.15)
	require.Error(t, err)
}

func TestAnalyzeRejectsZeroPeakVelocity(t *testing.T) {
	samples := []Sample{
		{X: 1, Y: 1, T: 0},
		{X: 1, Y: 1, T: 1},
		{X: 1, Y: 1, T: 2},
		{X: 1, Y: 1, T: 3},
	}
	_, err := Analyze(samples, 4, 0.15)
	require.Error(t, err)
}

func TestAnalyzeProducesFiniteMetrics(t *testing.T) {
	samples := make([]Sample, 0, 20)
	for i := 0; i < 20; i++ {
		t := float64(i) * 0.05
		samples = append(samples, Sample{X: t * t, Y: t, T: t})
	}
	m, err := Analyze(samples, 4, 0.15)
	require.NoError(t, err)
	require.False(t, isNaNOrInf(m.LDLJ))
	require.False(t, isNaNOrInf(m.VelocityEntropy))
	require.False(t, isNaNOrInf(m.CurvatureEntropy))
	require.False(t, isNaNOrInf(m.Throughput))
	require.GreaterOrEqual(t, m.NCD, 0.0)
}

func TestSyntheticDetection(t *testing.T) {
	uniform := make([]float64, 10)
	for i := range uniform {
		uniform[i] = 0.05
	}
	require.True(t, isSynthetic(uniform, 0.15))

	jittered := []float64{0.01, 0.2, 0.05, 0.3, 0.02, 0.25}
	require.False(t, isSynthetic(jittered, 0.15))
}

func TestBurstinessDegenerate(t *testing.T) {
	require.Equal(t, -1.0, burstiness([]float64{0, 0, 0}))
}

func TestRingEviction(t *testing.T) {
	r := NewRing(3)
	r.Push(Sample{T: 1})
	r.Push(Sample{T: 2})
	r.Push(Sample{T: 3})
	r.Push(Sample{T: 4})
	require.Equal(t, 3, r.Len())
	got := r.Samples()
	require.Equal(t, []float64{2, 3, 4}, []float64{got[0].T, got[1].T, got[2].T})
}

func isNaNOrInf(f float64) bool {
	return f != f || f > 1e300 || f < -1e300
}
