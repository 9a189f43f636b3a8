package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchstream/internal/domain"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startFeed runs a WebSocket server that pushes the given samples and then
// holds the connection open. The returned stop function severs every feed
// connection directly: upgraded connections are hijacked, so closing the
// httptest server alone never drops them.
func startFeed(t *testing.T, samples []domain.Sample) (string, func()) {
	t.Helper()

	var mu sync.Mutex
	var conns []*websocket.Conn

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, conn)
		mu.Unlock()

		for _, s := range samples {
			if err := conn.WriteJSON(s); err != nil {
				return
			}
		}

		// Hold open until the client or the test tears the connection down.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	stop := func() {
		mu.Lock()
		for _, conn := range conns {
			conn.Close()
		}
		mu.Unlock()
		srv.Close()
	}
	return "ws" + strings.TrimPrefix(srv.URL, "http"), stop
}

func TestWSSource_ReceivesPushedSamples(t *testing.T) {
	want := []domain.Sample{
		{Timestamp: 0.0, Value: 1.0},
		{Timestamp: 0.1, Value: 1.5},
		{Timestamp: 0.2, Value: 0.5},
	}
	url, stop := startFeed(t, want)
	defer stop()

	src, err := NewWSSource(context.Background(), url, nil)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, w := range want {
		s, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, w, s)
	}
}

func TestWSSource_NextHonorsContext(t *testing.T) {
	url, stop := startFeed(t, nil)
	defer stop()

	src, err := NewWSSource(context.Background(), url, nil)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWSSource_DialFailure(t *testing.T) {
	_, err := NewWSSource(context.Background(), "ws://127.0.0.1:1/feed", nil)
	assert.Error(t, err)
}

func TestWSSource_ReconnectBudgetExhaustedGoesDown(t *testing.T) {
	url, stop := startFeed(t, []domain.Sample{{Timestamp: 0, Value: 1}})

	cfg := DefaultWSConfig()
	cfg.ReconnectInterval = 5 * time.Millisecond
	cfg.MaxReconnectInterval = 10 * time.Millisecond
	cfg.MaxReconnectElapsed = 100 * time.Millisecond

	src, err := NewWSSource(context.Background(), url, &cfg)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Value)

	// Kill the feed; reconnects fail until the budget runs out. Drain any
	// samples buffered before the failure.
	stop()

	for err == nil {
		_, err = src.Next(ctx)
	}
	assert.ErrorIs(t, err, ErrSourceDown)
}

func TestWSSource_CloseIsIdempotent(t *testing.T) {
	url, stop := startFeed(t, nil)
	defer stop()

	src, err := NewWSSource(context.Background(), url, nil)
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}
