package analysis

import (
	"patchstream/internal/domain"
)

// PeakOptions configures streaming peak detection.
type PeakOptions struct {
	// Height is the minimum value for a local maximum to count as a peak.
	Height float64
	// MinDistance is the minimum number of samples between accepted peaks.
	MinDistance int64
}

// DefaultPeakOptions matches the thresholds the offline analyzer shipped with.
func DefaultPeakOptions() PeakOptions {
	return PeakOptions{Height: 0.5, MinDistance: 10}
}

// Peak is one detected local maximum.
type Peak struct {
	Index     int64   `json:"index"`
	Timestamp float64 `json:"t"`
	Value     float64 `json:"v"`
}

// PeakDetector finds local maxima above a height threshold with a minimum
// sample distance between accepted peaks. It keeps only the previous two
// samples, so memory stays bounded on infinite streams.
//
// A peak is confirmed one sample late: sample k is a peak when
// v[k-1] < v[k] >= v[k+1] and v[k] >= Height. Not safe for concurrent use;
// the Analyzer serializes access.
type PeakDetector struct {
	opts PeakOptions

	prev      domain.Sample
	prevPrev  domain.Sample
	seen      int64
	lastPeak  int64
	peakCount int64
	recent    []Peak
}

// recentPeakCap bounds the retained peak list for status reporting.
const recentPeakCap = 32

// NewPeakDetector creates a detector. Zero options fall back to defaults.
func NewPeakDetector(opts PeakOptions) *PeakDetector {
	def := DefaultPeakOptions()
	if opts.Height == 0 {
		opts.Height = def.Height
	}
	if opts.MinDistance <= 0 {
		opts.MinDistance = def.MinDistance
	}
	return &PeakDetector{opts: opts, lastPeak: -1}
}

// Observe feeds one sample and returns the confirmed peak, if any.
func (d *PeakDetector) Observe(s domain.Sample) *Peak {
	d.seen++
	defer func() {
		d.prevPrev = d.prev
		d.prev = s
	}()

	if d.seen < 3 {
		return nil
	}

	// Candidate is the middle sample of the last three.
	candidateIdx := d.seen - 2
	if !(d.prev.Value > d.prevPrev.Value && d.prev.Value >= s.Value) {
		return nil
	}
	if d.prev.Value < d.opts.Height {
		return nil
	}
	if d.lastPeak >= 0 && candidateIdx-d.lastPeak < d.opts.MinDistance {
		return nil
	}

	d.lastPeak = candidateIdx
	d.peakCount++
	peak := Peak{Index: candidateIdx, Timestamp: d.prev.Timestamp, Value: d.prev.Value}

	d.recent = append(d.recent, peak)
	if len(d.recent) > recentPeakCap {
		d.recent = d.recent[1:]
	}
	return &peak
}

// Count returns the number of peaks detected so far.
func (d *PeakDetector) Count() int64 { return d.peakCount }

// Recent returns the most recently detected peaks, oldest first.
func (d *PeakDetector) Recent() []Peak {
	out := make([]Peak, len(d.recent))
	copy(out, d.recent)
	return out
}
