// Package source provides sample acquisition for the pipeline.
//
// A SampleSource is a lazy, potentially infinite, non-restartable sequence of
// measurements. Implementations: a WebSocket acquisition feed, a recorded
// trace file, and a synthetic waveform for demos and tests.
package source

import (
	"context"
	"errors"

	"patchstream/internal/domain"
)

var (
	// ErrExhausted signals the clean end of a finite source. Sources never
	// restart; a fresh source must be constructed to stream again.
	ErrExhausted = errors.New("sample source exhausted")

	// ErrSourceDown signals that the source's transport gave up
	// reconnecting and will produce no further samples.
	ErrSourceDown = errors.New("sample source transport down")
)

// SampleSource yields raw samples one at a time. Next blocks until a sample
// is available, the context is cancelled, or the source ends.
type SampleSource interface {
	Next(ctx context.Context) (domain.Sample, error)
	Close() error
}
