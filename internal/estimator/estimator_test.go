package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchstream/internal/domain"
)

func TestNew_WindowBounds(t *testing.T) {
	tests := []struct {
		name    string
		window  int
		wantErr bool
	}{
		{"minimum", 2, false},
		{"default", 3, false},
		{"maximum", 64, false},
		{"too small", 1, true},
		{"zero", 0, true},
		{"negative", -3, true},
		{"too large", 65, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := New(tt.window)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWindow)
				assert.Nil(t, est)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.window, est.Window())
			}
		})
	}
}

func TestIngest_WarmupThenLinearSlope(t *testing.T) {
	est, err := New(3)
	require.NoError(t, err)

	// Warm-up: exactly W samples before the first point.
	p, err := est.Ingest(domain.Sample{Timestamp: 0, Value: 0})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = est.Ingest(domain.Sample{Timestamp: 1, Value: 2})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = est.Ingest(domain.Sample{Timestamp: 2, Value: 4})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2.0, p.X)
	assert.InDelta(t, 2.0, p.Y, 1e-12)

	p, err = est.Ingest(domain.Sample{Timestamp: 3, Value: 6})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3.0, p.X)
	assert.InDelta(t, 2.0, p.Y, 1e-12)
}

func TestIngest_SmoothsOverWindow(t *testing.T) {
	est, err := New(3)
	require.NoError(t, err)

	// Slopes: 1.0 between t=0..1, 3.0 between t=1..2 → mean 2.0.
	mustNil(t, est, domain.Sample{Timestamp: 0, Value: 0})
	mustNil(t, est, domain.Sample{Timestamp: 1, Value: 1})

	p, err := est.Ingest(domain.Sample{Timestamp: 2, Value: 4})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 2.0, p.Y, 1e-12)
}

func TestIngest_ConstantSignalZeroSlope(t *testing.T) {
	est, err := New(3)
	require.NoError(t, err)

	mustNil(t, est, domain.Sample{Timestamp: 0, Value: 5})
	mustNil(t, est, domain.Sample{Timestamp: 1, Value: 5})

	p, err := est.Ingest(domain.Sample{Timestamp: 2, Value: 5})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 0.0, p.Y)
}

func TestIngest_OutOfOrderRejectedWithoutStateChange(t *testing.T) {
	est, err := New(3)
	require.NoError(t, err)

	mustNil(t, est, domain.Sample{Timestamp: 0, Value: 0})
	mustNil(t, est, domain.Sample{Timestamp: 1, Value: 2})

	before := est.Accepted()

	// Earlier timestamp.
	p, err := est.Ingest(domain.Sample{Timestamp: 0.5, Value: 100})
	assert.ErrorIs(t, err, ErrOutOfOrderSample)
	assert.Nil(t, p)
	assert.Equal(t, before, est.Accepted())

	// Duplicate timestamp.
	p, err = est.Ingest(domain.Sample{Timestamp: 1, Value: 100})
	assert.ErrorIs(t, err, ErrOutOfOrderSample)
	assert.Nil(t, p)
	assert.Equal(t, before, est.Accepted())

	// The stream continues unaffected by the rejected samples.
	p, err = est.Ingest(domain.Sample{Timestamp: 2, Value: 4})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.InDelta(t, 2.0, p.Y, 1e-12)
}

func TestIngest_DuplicateFirstTimestamps(t *testing.T) {
	est, err := New(3)
	require.NoError(t, err)

	mustNil(t, est, domain.Sample{Timestamp: 0, Value: 0})

	p, err := est.Ingest(domain.Sample{Timestamp: 0, Value: 5})
	assert.ErrorIs(t, err, ErrOutOfOrderSample)
	assert.Nil(t, p)
	assert.Equal(t, int64(1), est.Accepted())
}

func TestIngest_StrictlyIncreasingX(t *testing.T) {
	est, err := New(5)
	require.NoError(t, err)

	var lastX float64
	var emitted int
	for i := 0; i < 1000; i++ {
		t64 := float64(i) * 0.01
		p, err := est.Ingest(domain.Sample{Timestamp: t64, Value: float64(i * i)})
		require.NoError(t, err)
		if p == nil {
			continue
		}
		if emitted > 0 {
			assert.Greater(t, p.X, lastX)
		}
		assert.Equal(t, t64, p.X)
		lastX = p.X
		emitted++
	}

	// Every accepted sample after warm-up emits exactly one point.
	assert.Equal(t, 1000-(5-1), emitted)
}

func TestIngest_WindowTwoIsBackwardDifference(t *testing.T) {
	est, err := New(2)
	require.NoError(t, err)

	mustNil(t, est, domain.Sample{Timestamp: 0, Value: 0})

	p, err := est.Ingest(domain.Sample{Timestamp: 2, Value: 10})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2.0, p.X)
	assert.InDelta(t, 5.0, p.Y, 1e-12)
}

func TestLastEmitted(t *testing.T) {
	est, err := New(2)
	require.NoError(t, err)

	_, has := est.LastEmitted()
	assert.False(t, has)

	mustNil(t, est, domain.Sample{Timestamp: 0, Value: 0})
	_, err = est.Ingest(domain.Sample{Timestamp: 1, Value: 3})
	require.NoError(t, err)

	y, has := est.LastEmitted()
	assert.True(t, has)
	assert.InDelta(t, 3.0, y, 1e-12)
}

func mustNil(t *testing.T, est *Estimator, s domain.Sample) {
	t.Helper()
	p, err := est.Ingest(s)
	require.NoError(t, err)
	require.Nil(t, p)
}
