package source

import (
	"context"
	"math"
	"time"

	"patchstream/internal/domain"
)

// SyntheticSource generates a sine trace on the signal clock. Used by demo
// mode and tests; infinite unless Limit is set.
type SyntheticSource struct {
	amplitude float64
	frequency float64
	step      float64
	interval  time.Duration
	limit     int64

	n      int64
	closed bool
}

// SyntheticOptions configures the generated waveform.
type SyntheticOptions struct {
	// Amplitude of the sine wave. Default 1.0.
	Amplitude float64
	// Frequency in cycles per signal-clock second. Default 1.0.
	Frequency float64
	// Step is the signal-clock spacing between samples. Default 0.001.
	Step float64
	// Interval paces emission in wall-clock time; zero emits immediately.
	Interval time.Duration
	// Limit caps the number of samples; zero means unbounded.
	Limit int64
}

// NewSyntheticSource creates a generated waveform source.
func NewSyntheticSource(opts SyntheticOptions) *SyntheticSource {
	amplitude := opts.Amplitude
	if amplitude == 0 {
		amplitude = 1.0
	}
	frequency := opts.Frequency
	if frequency == 0 {
		frequency = 1.0
	}
	step := opts.Step
	if step == 0 {
		step = 0.001
	}
	return &SyntheticSource{
		amplitude: amplitude,
		frequency: frequency,
		step:      step,
		interval:  opts.Interval,
		limit:     opts.Limit,
	}
}

// Next returns the next generated sample.
func (s *SyntheticSource) Next(ctx context.Context) (domain.Sample, error) {
	if s.closed || (s.limit > 0 && s.n >= s.limit) {
		return domain.Sample{}, ErrExhausted
	}

	if s.interval > 0 && s.n > 0 {
		select {
		case <-ctx.Done():
			return domain.Sample{}, ctx.Err()
		case <-time.After(s.interval):
		}
	}

	t := float64(s.n) * s.step
	s.n++
	return domain.Sample{
		Timestamp: t,
		Value:     s.amplitude * math.Sin(2*math.Pi*s.frequency*t),
	}, nil
}

// Close stops the source.
func (s *SyntheticSource) Close() error {
	s.closed = true
	return nil
}
