// Package dispatch runs the acquisition → estimation pipeline off the
// request-handling goroutines.
//
// One Dispatcher owns one logical signal: it pulls samples from the source,
// feeds the estimator, and hands derivative points to the broker through
// Publish only. Sample-level errors never stop the loop; exhausting the
// acquisition retry budget terminates the stream for all subscribers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"patchstream/internal/analysis"
	"patchstream/internal/broker"
	"patchstream/internal/domain"
	"patchstream/internal/estimator"
	"patchstream/internal/observability"
	"patchstream/internal/source"
)

// Default acquisition retry policy.
const (
	DefaultRetryLimit      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// ErrSourceUnavailable is returned by Run after acquisition retries are
// exhausted. The terminal event has already been delivered when Run returns it.
var ErrSourceUnavailable = errors.New("source unavailable: acquisition retries exhausted")

// State describes the dispatcher lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
	StateComplete State = "complete"
)

// Options configures a Dispatcher.
type Options struct {
	Source    source.SampleSource
	Estimator *estimator.Estimator
	Broker    *broker.Broker

	// Analyzer optionally tracks raw-trace statistics and peaks alongside
	// derivative estimation.
	Analyzer *analysis.Analyzer

	// RetryLimit is the number of retries after a failed acquisition;
	// the failing call itself is attempt zero. Zero selects
	// DefaultRetryLimit, so a no-retry policy is not expressible here.
	RetryLimit uint64
	// InitialInterval is the first retry delay. Default: DefaultInitialInterval.
	InitialInterval time.Duration
	// MaxInterval caps the retry delay. Default: DefaultMaxInterval.
	MaxInterval time.Duration

	Logger *log.Logger
}

// Dispatcher hosts the per-signal pipeline on its own goroutine.
type Dispatcher struct {
	src      source.SampleSource
	est      *estimator.Estimator
	brk      *broker.Broker
	analyzer *analysis.Analyzer

	retryLimit      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	logger          *log.Logger

	mu         sync.Mutex
	state      State
	samples    int64
	points     int64
	outOfOrder int64
	degenerate int64
}

// New creates a dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("dispatch: source is required")
	}
	if opts.Estimator == nil {
		return nil, fmt.Errorf("dispatch: estimator is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("dispatch: broker is required")
	}

	retryLimit := opts.RetryLimit
	if retryLimit == 0 {
		retryLimit = DefaultRetryLimit
	}
	initialInterval := opts.InitialInterval
	if initialInterval == 0 {
		initialInterval = DefaultInitialInterval
	}
	maxInterval := opts.MaxInterval
	if maxInterval == 0 {
		maxInterval = DefaultMaxInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Dispatcher{
		src:             opts.Source,
		est:             opts.Estimator,
		brk:             opts.Broker,
		analyzer:        opts.Analyzer,
		retryLimit:      retryLimit,
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
		logger:          logger,
		state:           StateIdle,
	}, nil
}

// Run drives the pipeline until the source ends, acquisition fails for good,
// or the context is cancelled. It always settles the broker before
// returning: cancellation terminates with SHUTDOWN, a finite source with
// SOURCE_COMPLETE, exhausted retries with SOURCE_UNAVAILABLE.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.setState(StateRunning)
	d.logger.Printf("Dispatcher started (window=%d, retry limit=%d)", d.est.Window(), d.retryLimit)

	for {
		sample, err := d.nextSample(ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			d.brk.Terminate(domain.ReasonShutdown)
			d.setState(StateStopped)
			return ctx.Err()
		case errors.Is(err, source.ErrExhausted):
			d.logger.Printf("Source complete after %d samples", d.Samples())
			d.brk.Terminate(domain.ReasonSourceComplete)
			d.setState(StateComplete)
			return nil
		default:
			d.logger.Printf("Acquisition failed permanently: %v", err)
			d.brk.Terminate(domain.ReasonSourceUnavailable)
			d.setState(StateFailed)
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}

		d.ingest(sample)
	}
}

// nextSample acquires one sample, retrying transient failures with bounded
// exponential backoff. Terminal source conditions pass through unretried.
func (d *Dispatcher) nextSample(ctx context.Context) (domain.Sample, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.initialInterval
	bo.MaxInterval = d.maxInterval
	bo.MaxElapsedTime = 0

	var sample domain.Sample
	attempt := 0

	op := func() error {
		s, err := d.src.Next(ctx)
		if err != nil {
			if errors.Is(err, source.ErrExhausted) ||
				errors.Is(err, source.ErrSourceDown) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			attempt++
			d.logger.Printf("Acquisition attempt %d failed: %v", attempt, err)
			observability.RecordSourceRetry()
			return err
		}
		sample = s
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, d.retryLimit), ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return domain.Sample{}, perm.Unwrap()
		}
		return domain.Sample{}, err
	}
	return sample, nil
}

// ingest feeds one sample through the estimator and publishes any resulting
// point. Sample-level errors are dropped and counted, never fatal.
func (d *Dispatcher) ingest(sample domain.Sample) {
	start := time.Now()
	point, err := d.est.Ingest(sample)
	observability.RecordIngestLatency(time.Since(start).Seconds())

	if err != nil {
		switch {
		case errors.Is(err, estimator.ErrOutOfOrderSample):
			d.count(func() { d.outOfOrder++ })
			observability.RecordSampleDrop("out_of_order")
			d.logger.Printf("Dropped sample: %v", err)
		case errors.Is(err, estimator.ErrDegenerateInterval):
			d.count(func() { d.degenerate++ })
			observability.RecordSampleDrop("degenerate_interval")
			d.logger.Printf("Dropped sample: %v", err)
		default:
			observability.RecordSampleDrop("other")
			d.logger.Printf("Ingest error: %v", err)
		}
		return
	}

	d.count(func() { d.samples++ })
	observability.RecordSampleIngested(sample.Timestamp)
	fill := int(d.est.Accepted())
	if fill > d.est.Window() {
		fill = d.est.Window()
	}
	observability.SetEstimatorWindowFill(fill)

	if d.analyzer != nil {
		d.analyzer.Observe(sample)
	}

	if point != nil {
		d.brk.Publish(*point)
		d.count(func() { d.points++ })
	}
}

func (d *Dispatcher) count(f func()) {
	d.mu.Lock()
	f()
	d.mu.Unlock()
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Samples returns the number of accepted samples.
func (d *Dispatcher) Samples() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.samples
}

// Points returns the number of published derivative points.
func (d *Dispatcher) Points() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.points
}

// Drops returns the out-of-order and degenerate-interval drop counts.
func (d *Dispatcher) Drops() (outOfOrder, degenerate int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outOfOrder, d.degenerate
}
