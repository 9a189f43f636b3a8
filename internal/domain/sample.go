// Package domain contains the core data types shared across the pipeline.
package domain

// Sample is one raw (time, value) measurement from the source signal.
// Timestamps are seconds on the source's own clock and must be strictly
// increasing within one logical signal.
type Sample struct {
	Timestamp float64 `json:"t"`
	Value     float64 `json:"v"`
}

// DerivativePoint is one estimated rate of change, paired with the timestamp
// of the sample that produced it. Immutable once published.
type DerivativePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
