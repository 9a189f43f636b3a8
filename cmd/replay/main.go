// Package main replays a recorded trace through the derivative pipeline
// offline, printing derivative points and an end-of-trace signal summary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"patchstream/internal/analysis"
	"patchstream/internal/estimator"
	"patchstream/internal/source"
)

func main() {
	// Parse flags
	traceFile := flag.String("trace-file", "", "Recorded trace CSV to replay (required)")
	window := flag.Int("window", estimator.DefaultWindow, "Derivative smoothing window size")
	smooth := flag.Int("smooth", 0, "Optional moving-average prefilter size (0 disables)")
	peakHeight := flag.Float64("peak-height", 0.5, "Peak detection height threshold")
	peakDistance := flag.Int64("peak-distance", 10, "Peak detection minimum sample distance")
	outputJSON := flag.Bool("json", false, "Output points as JSON lines")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	// Validate required flags
	if *traceFile == "" {
		logger.Fatal("--trace-file is required")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	src, err := source.NewFileSource(*traceFile, source.FileOptions{})
	if err != nil {
		logger.Fatalf("open trace: %v", err)
	}
	defer src.Close()

	est, err := estimator.New(*window)
	if err != nil {
		logger.Fatalf("invalid window: %v", err)
	}

	var filter *analysis.MovingAverage
	if *smooth > 1 {
		filter = analysis.NewMovingAverage(*smooth)
	}
	analyzer := analysis.NewAnalyzer(analysis.PeakOptions{
		Height:      *peakHeight,
		MinDistance: *peakDistance,
	})

	var outOfOrder, degenerate int
	var derivatives []float64
	enc := json.NewEncoder(os.Stdout)

	for {
		sample, err := src.Next(ctx)
		if errors.Is(err, source.ErrExhausted) {
			break
		}
		if err != nil {
			logger.Fatalf("read trace: %v", err)
		}

		if filter != nil {
			sample = filter.Apply(sample)
		}

		point, err := est.Ingest(sample)
		switch {
		case errors.Is(err, estimator.ErrOutOfOrderSample):
			outOfOrder++
			continue
		case errors.Is(err, estimator.ErrDegenerateInterval):
			degenerate++
			continue
		case err != nil:
			logger.Fatalf("ingest: %v", err)
		}

		analyzer.Observe(sample)

		if point == nil {
			continue // warm-up
		}
		derivatives = append(derivatives, point.Y)

		if *outputJSON {
			enc.Encode(point)
		} else {
			fmt.Printf("%.6f\t%.6f\n", point.X, point.Y)
		}
	}

	stats := analyzer.Snapshot()
	logger.Printf("Replay complete: %d samples, %d points, %d out-of-order, %d degenerate",
		stats.Count, len(derivatives), outOfOrder, degenerate)
	logger.Printf("Signal: mean=%.4f std=%.4f min=%.4f max=%.4f rms=%.4f peaks=%d",
		stats.Mean, stats.Std, stats.Min, stats.Max, stats.RMS, stats.Peaks)

	if len(derivatives) > 0 {
		d := analysis.DescribeWindow(derivatives)
		logger.Printf("Derivative: mean=%.4f std=%.4f min=%.4f max=%.4f",
			d.Mean, d.Std, d.Min, d.Max)
	}
}
