// Package analysis computes trace statistics and peak detection alongside
// derivative estimation. It mirrors what the offline analyzer reports for a
// recorded trace, restated over a live stream with bounded memory.
package analysis

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"patchstream/internal/domain"
)

// Stats is a snapshot of running signal statistics.
type Stats struct {
	Count      int64   `json:"count"`
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	PeakToPeak float64 `json:"peak_to_peak"`
	RMS        float64 `json:"rms"`
	Skewness   float64 `json:"skewness"`
	Peaks      int64   `json:"peaks"`
}

// Analyzer accumulates running statistics over one logical signal and
// detects peaks in the raw trace. Safe for one writer and many readers.
type Analyzer struct {
	mu sync.Mutex

	count     int64
	sum       float64
	sumSq     float64
	sumCube   float64
	min       float64
	max       float64
	hasSample bool

	peaks *PeakDetector
}

// NewAnalyzer creates an analyzer with the given peak detection settings.
func NewAnalyzer(peakOpts PeakOptions) *Analyzer {
	return &Analyzer{peaks: NewPeakDetector(peakOpts)}
}

// Observe accumulates one accepted sample.
func (a *Analyzer) Observe(s domain.Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := s.Value
	a.count++
	a.sum += v
	a.sumSq += v * v
	a.sumCube += v * v * v

	if !a.hasSample || v < a.min {
		a.min = v
	}
	if !a.hasSample || v > a.max {
		a.max = v
	}
	a.hasSample = true

	a.peaks.Observe(s)
}

// Snapshot returns the current statistics.
func (a *Analyzer) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count == 0 {
		return Stats{}
	}

	n := float64(a.count)
	mean := a.sum / n
	variance := a.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0 // float round-off near constant signals
	}
	std := math.Sqrt(variance)
	rms := math.Sqrt(a.sumSq / n)

	// Third central moment from raw power sums.
	skew := 0.0
	if std > 0 {
		m3 := a.sumCube/n - 3*mean*a.sumSq/n + 2*mean*mean*mean
		skew = m3 / (std * std * std)
	}

	return Stats{
		Count:      a.count,
		Mean:       mean,
		Std:        std,
		Min:        a.min,
		Max:        a.max,
		PeakToPeak: a.max - a.min,
		RMS:        rms,
		Skewness:   skew,
		Peaks:      a.peaks.Count(),
	}
}

// DescribeWindow computes windowed statistics for a finite slice of values,
// used by the replay tool for end-of-trace summaries.
func DescribeWindow(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	mean, std := stat.MeanStdDev(values, nil)
	min, max := values[0], values[0]
	var sumSq float64
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sumSq += v * v
	}

	if len(values) == 1 {
		std = 0
	}

	return Stats{
		Count:      int64(len(values)),
		Mean:       mean,
		Std:        std,
		Min:        min,
		Max:        max,
		PeakToPeak: max - min,
		RMS:        math.Sqrt(sumSq / float64(len(values))),
		Skewness:   stat.Skew(values, nil),
	}
}
