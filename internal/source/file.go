package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"patchstream/internal/domain"
)

// FileSource replays a recorded trace from a CSV file with `t,v` records.
// A header row is skipped if its first field does not parse as a number.
type FileSource struct {
	f        *os.File
	r        *csv.Reader
	interval time.Duration
	line     int
	closed   bool
}

// FileOptions configures trace replay.
type FileOptions struct {
	// Interval paces playback; zero replays as fast as the consumer reads.
	Interval time.Duration
}

// NewFileSource opens a trace file for replay.
func NewFileSource(path string, opts FileOptions) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true

	return &FileSource{f: f, r: r, interval: opts.Interval}, nil
}

// Next returns the next recorded sample, pacing by the configured interval.
// It returns ErrExhausted at end of trace.
func (s *FileSource) Next(ctx context.Context) (domain.Sample, error) {
	if s.closed {
		return domain.Sample{}, ErrExhausted
	}

	if s.interval > 0 && s.line > 0 {
		select {
		case <-ctx.Done():
			return domain.Sample{}, ctx.Err()
		case <-time.After(s.interval):
		}
	}

	for {
		record, err := s.r.Read()
		if err == io.EOF {
			return domain.Sample{}, ErrExhausted
		}
		if err != nil {
			return domain.Sample{}, fmt.Errorf("read trace line %d: %w", s.line+1, err)
		}
		s.line++

		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			if s.line == 1 {
				continue // header row
			}
			return domain.Sample{}, fmt.Errorf("trace line %d: bad timestamp %q", s.line, record[0])
		}
		v, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return domain.Sample{}, fmt.Errorf("trace line %d: bad value %q", s.line, record[1])
		}

		return domain.Sample{Timestamp: t, Value: v}, nil
	}
}

// Close releases the underlying file. Subsequent Next calls return ErrExhausted.
func (s *FileSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
