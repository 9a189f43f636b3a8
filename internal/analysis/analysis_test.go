package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchstream/internal/domain"
)

func feed(a *Analyzer, values ...float64) {
	for i, v := range values {
		a.Observe(domain.Sample{Timestamp: float64(i), Value: v})
	}
}

func TestAnalyzer_BasicStats(t *testing.T) {
	a := NewAnalyzer(DefaultPeakOptions())
	feed(a, 1, 2, 3, 4, 5)

	stats := a.Snapshot()
	assert.Equal(t, int64(5), stats.Count)
	assert.InDelta(t, 3.0, stats.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2.0), stats.Std, 1e-9) // population std
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 5.0, stats.Max)
	assert.Equal(t, 4.0, stats.PeakToPeak)
	assert.InDelta(t, math.Sqrt(11.0), stats.RMS, 1e-9)
	assert.InDelta(t, 0.0, stats.Skewness, 1e-9) // symmetric
}

func TestAnalyzer_EmptySnapshot(t *testing.T) {
	a := NewAnalyzer(DefaultPeakOptions())
	assert.Equal(t, Stats{}, a.Snapshot())
}

func TestAnalyzer_ConstantSignal(t *testing.T) {
	a := NewAnalyzer(DefaultPeakOptions())
	feed(a, 7, 7, 7, 7)

	stats := a.Snapshot()
	assert.Equal(t, 7.0, stats.Mean)
	assert.Equal(t, 0.0, stats.Std)
	assert.Equal(t, 0.0, stats.PeakToPeak)
	assert.Equal(t, 0.0, stats.Skewness)
}

func TestPeakDetector_FindsLocalMaxima(t *testing.T) {
	d := NewPeakDetector(PeakOptions{Height: 1.0, MinDistance: 1})

	values := []float64{0, 2, 0, 0, 3, 0}
	var peaks []Peak
	for i, v := range values {
		if p := d.Observe(domain.Sample{Timestamp: float64(i), Value: v}); p != nil {
			peaks = append(peaks, *p)
		}
	}

	require.Len(t, peaks, 2)
	assert.Equal(t, 2.0, peaks[0].Value)
	assert.Equal(t, 1.0, peaks[0].Timestamp)
	assert.Equal(t, 3.0, peaks[1].Value)
	assert.Equal(t, 4.0, peaks[1].Timestamp)
	assert.Equal(t, int64(2), d.Count())
}

func TestPeakDetector_HeightThreshold(t *testing.T) {
	d := NewPeakDetector(PeakOptions{Height: 2.5, MinDistance: 1})

	values := []float64{0, 2, 0, 0, 3, 0}
	var count int
	for i, v := range values {
		if d.Observe(domain.Sample{Timestamp: float64(i), Value: v}) != nil {
			count++
		}
	}
	assert.Equal(t, 1, count) // only the 3.0 peak clears the threshold
}

func TestPeakDetector_MinDistanceSuppressesClosePeaks(t *testing.T) {
	d := NewPeakDetector(PeakOptions{Height: 0.5, MinDistance: 5})

	// Two clear maxima two samples apart; the second is suppressed.
	values := []float64{0, 2, 0, 3, 0}
	var count int
	for i, v := range values {
		if d.Observe(domain.Sample{Timestamp: float64(i), Value: v}) != nil {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestPeakDetector_PlateauCountsOnce(t *testing.T) {
	d := NewPeakDetector(PeakOptions{Height: 0.5, MinDistance: 1})

	// Rising edge into a plateau: only the first plateau sample qualifies
	// (strict rise before, non-rise after).
	values := []float64{0, 2, 2, 2, 0}
	var count int
	for i, v := range values {
		if d.Observe(domain.Sample{Timestamp: float64(i), Value: v}) != nil {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestPeakDetector_Recent(t *testing.T) {
	d := NewPeakDetector(PeakOptions{Height: 0.5, MinDistance: 1})
	for i := 0; i < 100; i++ {
		// Alternating 0,1,0,1... every odd index is a local max.
		v := float64(i % 2)
		d.Observe(domain.Sample{Timestamp: float64(i), Value: v})
	}

	recent := d.Recent()
	assert.LessOrEqual(t, len(recent), recentPeakCap)
	for i := 1; i < len(recent); i++ {
		assert.Greater(t, recent[i].Index, recent[i-1].Index)
	}
}

func TestMovingAverage_SmoothsValues(t *testing.T) {
	m := NewMovingAverage(3)

	out := m.Apply(domain.Sample{Timestamp: 0, Value: 3})
	assert.Equal(t, 3.0, out.Value) // partial window

	out = m.Apply(domain.Sample{Timestamp: 1, Value: 6})
	assert.InDelta(t, 4.5, out.Value, 1e-12)

	out = m.Apply(domain.Sample{Timestamp: 2, Value: 9})
	assert.InDelta(t, 6.0, out.Value, 1e-12)

	// Window slides: (6+9+12)/3.
	out = m.Apply(domain.Sample{Timestamp: 3, Value: 12})
	assert.InDelta(t, 9.0, out.Value, 1e-12)
	assert.Equal(t, 3.0, out.Timestamp) // timestamps pass through
}

func TestMovingAverage_SizeOnePassesThrough(t *testing.T) {
	m := NewMovingAverage(1)
	s := domain.Sample{Timestamp: 4, Value: 42}
	assert.Equal(t, s, m.Apply(s))
}

func TestMovingAverage_Reset(t *testing.T) {
	m := NewMovingAverage(2)
	m.Apply(domain.Sample{Timestamp: 0, Value: 100})
	m.Reset()

	out := m.Apply(domain.Sample{Timestamp: 1, Value: 2})
	assert.Equal(t, 2.0, out.Value)
}

func TestDescribeWindow(t *testing.T) {
	stats := DescribeWindow([]float64{1, 2, 3, 4, 5})
	assert.Equal(t, int64(5), stats.Count)
	assert.InDelta(t, 3.0, stats.Mean, 1e-12)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 5.0, stats.Max)
	assert.InDelta(t, math.Sqrt(11.0), stats.RMS, 1e-9)

	assert.Equal(t, Stats{}, DescribeWindow(nil))
}
