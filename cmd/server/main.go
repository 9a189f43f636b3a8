// Package main provides the unified streaming service:
// - Acquisition (continuous): WebSocket feed, trace replay, or synthetic signal
// - Estimation (background): sliding-window derivative computation
// - Delivery: SSE and WebSocket push endpoints, /health, /status, /metrics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"patchstream/internal/analysis"
	"patchstream/internal/broker"
	"patchstream/internal/dispatch"
	"patchstream/internal/domain"
	"patchstream/internal/estimator"
	"patchstream/internal/observability"
	"patchstream/internal/source"
	"patchstream/internal/stream"
)

// Server holds all components of the streaming service.
type Server struct {
	dispatcher *dispatch.Dispatcher
	brk        *broker.Broker
	handler    *stream.Handler
	analyzer   *analysis.Analyzer
	logger     *log.Logger

	mu      sync.Mutex
	started time.Time
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	wsEndpoint := flag.String("source-ws-endpoint", os.Getenv("SOURCE_WS_ENDPOINT"), "WebSocket acquisition feed endpoint")
	traceFile := flag.String("trace-file", os.Getenv("TRACE_FILE"), "Recorded trace CSV to replay as the source")
	synthetic := flag.Bool("synthetic", false, "Generate a synthetic signal instead of a real source")
	window := flag.Int("window", estimator.DefaultWindow, "Derivative smoothing window size")
	backlog := flag.Int("backlog", broker.DefaultBacklogCapacity, "Per-subscriber backlog capacity")
	retryLimit := flag.Uint64("retry-limit", dispatch.DefaultRetryLimit, "Acquisition retry limit")
	retryInitial := flag.Duration("retry-initial", dispatch.DefaultInitialInterval, "Initial acquisition retry delay")
	retryMax := flag.Duration("retry-max", dispatch.DefaultMaxInterval, "Maximum acquisition retry delay")
	pace := flag.Duration("pace", 10*time.Millisecond, "Sample pacing for replay and synthetic sources")
	smooth := flag.Int("smooth", 0, "Optional moving-average prefilter size (0 disables)")
	peakHeight := flag.Float64("peak-height", 0.5, "Peak detection height threshold")
	peakDistance := flag.Int64("peak-distance", 10, "Peak detection minimum sample distance")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	modes := 0
	for _, set := range []bool{*wsEndpoint != "", *traceFile != "", *synthetic} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		logger.Fatal("Exactly one of --source-ws-endpoint, --trace-file, --synthetic is required")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create source
	src, err := createSource(ctx, *wsEndpoint, *traceFile, *synthetic, *pace)
	if err != nil {
		logger.Fatalf("Failed to create source: %v", err)
	}
	defer src.Close()

	if *smooth > 1 {
		src = newSmoothedSource(src, *smooth)
		logger.Printf("Prefilter enabled: moving average over %d samples", *smooth)
	}

	// Create pipeline components
	est, err := estimator.New(*window)
	if err != nil {
		logger.Fatalf("Invalid window: %v", err)
	}

	brk := broker.New(broker.Options{
		BacklogCapacity: *backlog,
		Logger:          log.New(os.Stdout, "[broker] ", log.LstdFlags|log.Lshortfile),
	})

	analyzer := analysis.NewAnalyzer(analysis.PeakOptions{
		Height:      *peakHeight,
		MinDistance: *peakDistance,
	})

	dispatcher, err := dispatch.New(dispatch.Options{
		Source:          src,
		Estimator:       est,
		Broker:          brk,
		Analyzer:        analyzer,
		RetryLimit:      *retryLimit,
		InitialInterval: *retryInitial,
		MaxInterval:     *retryMax,
		Logger:          log.New(os.Stdout, "[dispatch] ", log.LstdFlags|log.Lshortfile),
	})
	if err != nil {
		logger.Fatalf("Failed to create dispatcher: %v", err)
	}

	handler := stream.NewHandler(stream.Options{
		Broker: brk,
		Logger: log.New(os.Stdout, "[stream] ", log.LstdFlags|log.Lshortfile),
	})

	server := &Server{
		dispatcher: dispatcher,
		brk:        brk,
		handler:    handler,
		analyzer:   analyzer,
		logger:     logger,
		started:    time.Now(),
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start HTTP server
	httpServer := server.startHTTPServer(*listenAddr)

	// Run the pipeline until the source ends or shutdown is requested.
	// The dispatcher settles the broker (terminal event) before returning.
	runErr := dispatcher.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Printf("Pipeline stopped: %v", runErr)
	}

	// Ingestion has stopped; drain sessions, then close the HTTP server.
	handler.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown error: %v", err)
	}
	shutdownCancel()

	done <- runErr
	cancel()

	logger.Println("Shutdown complete")
}

// createSource builds the configured sample source.
func createSource(ctx context.Context, wsEndpoint, traceFile string, synthetic bool, pace time.Duration) (source.SampleSource, error) {
	switch {
	case wsEndpoint != "":
		cfg := source.DefaultWSConfig()
		cfg.Logger = log.New(os.Stdout, "[source] ", log.LstdFlags|log.Lshortfile)
		return source.NewWSSource(ctx, wsEndpoint, &cfg)
	case traceFile != "":
		return source.NewFileSource(traceFile, source.FileOptions{Interval: pace})
	default:
		return source.NewSyntheticSource(source.SyntheticOptions{Interval: pace}), nil
	}
}

// smoothedSource applies a moving-average prefilter in front of another source.
type smoothedSource struct {
	source.SampleSource
	filter *analysis.MovingAverage
}

func newSmoothedSource(src source.SampleSource, size int) *smoothedSource {
	return &smoothedSource{SampleSource: src, filter: analysis.NewMovingAverage(size)}
}

func (s *smoothedSource) Next(ctx context.Context) (domain.Sample, error) {
	raw, err := s.SampleSource.Next(ctx)
	if err != nil {
		return raw, err
	}
	return s.filter.Apply(raw), nil
}

// startHTTPServer starts the HTTP server for streaming/health/metrics/status.
func (s *Server) startHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()

	// Stream endpoints
	mux.HandleFunc("/stream/derivative", s.handler.ServeSSE)
	mux.HandleFunc("/stream/ws", s.handler.ServeWS)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		s.logger.Printf("Starting HTTP server on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("HTTP server error: %v", err)
		}
	}()

	return httpServer
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status          string         `json:"status"`
	Uptime          string         `json:"uptime"`
	Dispatcher      string         `json:"dispatcher"`
	SamplesAccepted int64          `json:"samples_accepted"`
	PointsPublished int64          `json:"points_published"`
	OutOfOrderDrops int64          `json:"out_of_order_drops"`
	DegenerateDrops int64          `json:"degenerate_drops"`
	BacklogDrops    uint64         `json:"backlog_drops"`
	ActiveSessions  int            `json:"active_sessions"`
	Signal          analysis.Stats `json:"signal"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outOfOrder, degenerate := s.dispatcher.Drops()
	resp := StatusResponse{
		Status:          "running",
		Uptime:          time.Since(s.started).String(),
		Dispatcher:      string(s.dispatcher.State()),
		SamplesAccepted: s.dispatcher.Samples(),
		PointsPublished: s.dispatcher.Points(),
		OutOfOrderDrops: outOfOrder,
		DegenerateDrops: degenerate,
		BacklogDrops:    s.brk.Dropped(),
		ActiveSessions:  s.handler.ActiveSessions(),
		Signal:          s.analyzer.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// envOr returns the environment value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
