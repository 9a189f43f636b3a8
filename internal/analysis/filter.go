package analysis

import (
	"patchstream/internal/domain"
)

// MovingAverage smooths a sample stream with a running mean over the last N
// values. The offline analyzer applied a smoothing filter ahead of
// differentiation; placing one of these between source and estimator
// reproduces that preprocessing on the live path.
type MovingAverage struct {
	size   int
	window []float64
	head   int
	count  int
	sum    float64
}

// NewMovingAverage creates a filter over the last size values. Sizes below 2
// pass samples through unchanged.
func NewMovingAverage(size int) *MovingAverage {
	if size < 2 {
		size = 1
	}
	return &MovingAverage{size: size, window: make([]float64, size)}
}

// Apply feeds one sample and returns it with the smoothed value. The
// timestamp is preserved so estimator ordering semantics are unaffected.
func (m *MovingAverage) Apply(s domain.Sample) domain.Sample {
	if m.size == 1 {
		return s
	}

	if m.count == m.size {
		m.sum -= m.window[m.head]
	} else {
		m.count++
	}
	m.window[m.head] = s.Value
	m.sum += s.Value
	m.head = (m.head + 1) % m.size

	return domain.Sample{Timestamp: s.Timestamp, Value: m.sum / float64(m.count)}
}

// Reset clears filter state.
func (m *MovingAverage) Reset() {
	m.head = 0
	m.count = 0
	m.sum = 0
}
