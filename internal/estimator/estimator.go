// Package estimator converts a raw sample sequence into derivative estimates.
//
// One Estimator owns one logical signal. It keeps a fixed ring of the last W
// accepted samples and, once the ring is full, emits a smoothed backward
// difference for every further accepted sample: the mean of the adjacent-pair
// slopes across the window. Memory is bounded regardless of stream length.
package estimator

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"patchstream/internal/domain"
)

// Window size bounds. W=2 degrades to a plain backward difference.
const (
	MinWindow     = 2
	MaxWindow     = 64
	DefaultWindow = 3
)

var (
	// ErrOutOfOrderSample is returned when a sample's timestamp is not
	// strictly greater than the last accepted one. The sample is dropped
	// and estimator state is unchanged.
	ErrOutOfOrderSample = errors.New("out of order sample")

	// ErrDegenerateInterval is returned when consecutive samples have a
	// zero time delta. The sample is consumed but no point is emitted.
	ErrDegenerateInterval = errors.New("degenerate interval: zero time delta")

	// ErrInvalidWindow is returned for window sizes outside [MinWindow, MaxWindow].
	ErrInvalidWindow = errors.New("invalid window size")
)

// Estimator computes derivative estimates over a sliding sample window.
// Not safe for concurrent use; the dispatcher owns it on a single goroutine.
type Estimator struct {
	window int

	// ring holds the last `count` accepted samples; head indexes the slot
	// the next accepted sample will overwrite.
	ring  []domain.Sample
	head  int
	count int

	accepted    int64
	lastEmitted float64
	hasEmitted  bool

	// slopes is scratch space reused across Ingest calls.
	slopes []float64
}

// New creates an estimator with the given window size.
func New(window int) (*Estimator, error) {
	if window < MinWindow || window > MaxWindow {
		return nil, fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidWindow, window, MinWindow, MaxWindow)
	}
	return &Estimator{
		window: window,
		ring:   make([]domain.Sample, window),
		slopes: make([]float64, 0, window-1),
	}, nil
}

// Window returns the configured window size.
func (e *Estimator) Window() int { return e.window }

// Accepted returns the number of samples accepted so far.
func (e *Estimator) Accepted() int64 { return e.accepted }

// LastEmitted returns the most recent derivative value and whether any point
// has been emitted yet.
func (e *Estimator) LastEmitted() (float64, bool) { return e.lastEmitted, e.hasEmitted }

// Ingest feeds one sample. It returns a derivative point once the window is
// full, nil during warm-up. A non-monotonic timestamp yields
// ErrOutOfOrderSample without touching state; a zero time delta yields
// ErrDegenerateInterval after consuming the sample.
func (e *Estimator) Ingest(s domain.Sample) (*domain.DerivativePoint, error) {
	if e.count > 0 {
		last := e.newest()
		if s.Timestamp < last.Timestamp {
			return nil, fmt.Errorf("%w: %v after %v", ErrOutOfOrderSample, s.Timestamp, last.Timestamp)
		}
		if s.Timestamp == last.Timestamp {
			return nil, fmt.Errorf("%w: t=%v", ErrOutOfOrderSample, s.Timestamp)
		}
	}

	e.ring[e.head] = s
	e.head = (e.head + 1) % e.window
	if e.count < e.window {
		e.count++
	}
	e.accepted++

	if e.count < e.window {
		return nil, nil // warm-up
	}

	e.slopes = e.slopes[:0]
	prev := e.oldest()
	for i := 1; i < e.window; i++ {
		cur := e.at(i)
		dt := cur.Timestamp - prev.Timestamp
		if dt == 0 {
			return nil, fmt.Errorf("%w at t=%v", ErrDegenerateInterval, cur.Timestamp)
		}
		e.slopes = append(e.slopes, (cur.Value-prev.Value)/dt)
		prev = cur
	}

	y := stat.Mean(e.slopes, nil)
	e.lastEmitted = y
	e.hasEmitted = true
	return &domain.DerivativePoint{X: s.Timestamp, Y: y}, nil
}

// at returns the i-th sample in window order, 0 = oldest.
func (e *Estimator) at(i int) domain.Sample {
	return e.ring[(e.head+e.window-e.count+i)%e.window]
}

func (e *Estimator) oldest() domain.Sample {
	return e.at(0)
}

func (e *Estimator) newest() domain.Sample {
	return e.at(e.count - 1)
}
