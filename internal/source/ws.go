package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"patchstream/internal/domain"
)

// WSConfig configures WebSocket acquisition behavior.
type WSConfig struct {
	// ReconnectInterval is the initial delay before a reconnect attempt.
	ReconnectInterval time.Duration
	// MaxReconnectInterval caps the backoff between reconnect attempts.
	MaxReconnectInterval time.Duration
	// MaxReconnectElapsed bounds total time spent reconnecting before the
	// source gives up; zero never gives up.
	MaxReconnectElapsed time.Duration
	// PingInterval is the keep-alive ping cadence.
	PingInterval time.Duration
	// ReadTimeout bounds a single frame read.
	ReadTimeout time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// Buffer is the capacity of the in-flight sample channel.
	Buffer int

	Logger *log.Logger
}

// DefaultWSConfig returns default WebSocket acquisition configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectInterval:    1 * time.Second,
		MaxReconnectInterval: 30 * time.Second,
		MaxReconnectElapsed:  5 * time.Minute,
		PingInterval:         30 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		Buffer:               1024,
	}
}

// WSSource consumes an upstream acquisition feed over WebSocket. The feed
// pushes one JSON object {"t": <number>, "v": <number>} per message. The
// reader goroutine reconnects with exponential backoff; once the backoff
// budget is exhausted the source goes down permanently and Next returns
// ErrSourceDown.
type WSSource struct {
	endpoint string
	config   WSConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool
	down   atomic.Bool

	samples chan domain.Sample
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWSSource connects to the acquisition endpoint and starts reading.
func NewWSSource(ctx context.Context, endpoint string, config *WSConfig) (*WSSource, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &WSSource{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		samples:  make(chan domain.Sample, cfg.Buffer),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Next returns the next pushed sample. It blocks until one arrives, the
// context is cancelled, or the source closes.
func (s *WSSource) Next(ctx context.Context) (domain.Sample, error) {
	select {
	case sample, ok := <-s.samples:
		if !ok {
			if s.down.Load() {
				return domain.Sample{}, ErrSourceDown
			}
			return domain.Sample{}, ErrExhausted
		}
		return sample, nil
	case <-ctx.Done():
		return domain.Sample{}, ctx.Err()
	}
}

// Close shuts the source down and releases the connection.
func (s *WSSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.samples)
	return nil
}

// connect establishes the WebSocket connection.
func (s *WSSource) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

// readLoop reads frames and forwards decoded samples until shutdown or the
// reconnect budget runs out.
func (s *WSSource) readLoop() {
	defer s.wg.Done()

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			if !s.reconnect() {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Printf("Acquisition read error: %v", err)
			s.dropConn()
			if !s.reconnect() {
				return
			}
			continue
		}

		var sample domain.Sample
		if err := json.Unmarshal(message, &sample); err != nil {
			s.logger.Printf("Malformed sample frame: %v", err)
			continue
		}

		select {
		case s.samples <- sample:
		case <-s.done:
			return
		}
	}
}

// reconnect retries the connection with exponential backoff. It returns
// false when the source should stop for good.
func (s *WSSource) reconnect() bool {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.ReconnectInterval
	bo.MaxInterval = s.config.MaxReconnectInterval
	bo.MaxElapsedTime = s.config.MaxReconnectElapsed

	for {
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			s.logger.Printf("Acquisition reconnect budget exhausted, source down")
			s.down.Store(true)
			s.markDown()
			return false
		}

		select {
		case <-s.done:
			return false
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.connect(ctx)
		cancel()
		if err == nil {
			s.logger.Printf("Acquisition feed reconnected")
			return true
		}
		s.logger.Printf("Acquisition reconnect failed: %v", err)
	}
}

// markDown wakes blocked Next callers after a permanent failure.
func (s *WSSource) markDown() {
	if !s.closed.Swap(true) {
		close(s.done)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
		// pingLoop exits via done; readLoop is the caller.
		close(s.samples)
	}
}

func (s *WSSource) dropConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// pingLoop sends periodic pings to keep the feed alive.
func (s *WSSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Dead connection; the reader handles reconnect.
				}
			}
			s.connMu.Unlock()
		}
	}
}
