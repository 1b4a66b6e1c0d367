package entropy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterBounds(t *testing.T) {
	src := NewRand(7)
	for i := 0; i < 1000; i++ {
		j := Jitter(src, 2)
		require.GreaterOrEqual(t, j, -2.0)
		require.LessOrEqual(t, j, 2.0)
	}
}

func TestJitterConstantHalfIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Jitter(Constant(0.5), 5))
	assert.Equal(t, 0.0, Jitter(nil, 5))
	assert.InDelta(t, -3.0, Jitter(Constant(0), 3), 1e-12)
}

func TestRandSeedReproducible(t *testing.T) {
	a := NewRand(42)
	b := NewRand(42)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestSimplexStaysInUnitRangeAndDrifts(t *testing.T) {
	s := NewSimplex(3)
	same := NewSimplex(3)
	seen := map[float64]bool{}
	for i := 0; i < 500; i++ {
		v := s.Float64()
		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 1.0)
		require.Equal(t, v, same.Float64())
		seen[v] = true
	}
	assert.Greater(t, len(seen), 100)
}

func TestNilClientFallsBack(t *testing.T) {
	var c *Client
	assert.NoError(t, c.Refill(context.Background()))
	v := c.Float64()
	assert.GreaterOrEqual(t, v, 0.0)
	assert.Less(t, v, 1.0)
	assert.Nil(t, NewClient(""))
}

func TestClientUsesPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"random":{"data":[0.25,0.5,0.75]}}}`))
	}))
	defer srv.Close()

	c := NewClient("key")
	c.baseURL = srv.URL
	c.client = srv.Client()

	require.NoError(t, c.Refill(context.Background()))
	assert.Equal(t, 3, c.Pooled())
	assert.Equal(t, 0.25, c.Float64())
	assert.Equal(t, 0.5, c.Float64())
}

func TestClientDrawsNeverCallNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"result":{"random":{"data":[0.5]}}}`))
	}))
	defer srv.Close()

	c := NewClient("key")
	c.baseURL = srv.URL
	c.client = srv.Client()

	for i := 0; i < 50; i++ {
		v := c.Float64()
		assert.True(t, v >= 0 && v < 1)
	}
	assert.Zero(t, calls.Load())
}

func TestClientRefillBacksOffAfterFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("key")
	c.baseURL = srv.URL
	c.client = srv.Client()

	require.Error(t, c.Refill(context.Background()))
	for i := 0; i < 20; i++ {
		assert.Error(t, c.Refill(context.Background()))
		for j := 0; j < 9; j++ {
			v := c.Float64()
			assert.True(t, v >= 0 && v < 1)
		}
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 30*time.Second, c.failBackoff)

	// Once the backoff has elapsed the next refill tries again and doubles it.
	c.lastFailAt = time.Now().Add(-time.Minute)
	require.Error(t, c.Refill(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, time.Minute, c.failBackoff)
}

func TestClientRefillSkipsFullPool(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"result":{"random":{"data":[0.1,0.2,0.3,0.4,0.5,0.6,0.7,0.8,0.9,0.95,0.99]}}}`))
	}))
	defer srv.Close()

	c := NewClient("key")
	c.baseURL = srv.URL
	c.client = srv.Client()

	require.NoError(t, c.Refill(context.Background()))
	require.NoError(t, c.Refill(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 11, c.Pooled())
}

func TestClientAPIErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := NewClient("key")
	c.baseURL = srv.URL
	c.client = srv.Client()

	assert.Error(t, c.Refill(context.Background()))
	v := c.Float64()
	assert.GreaterOrEqual(t, v, 0.0)
	assert.Less(t, v, 1.0)
	assert.Zero(t, c.Pooled())
}

func TestFromName(t *testing.T) {
	for _, kind := range Kinds() {
		src, err := FromName(kind, 7, "")
		require.NoError(t, err, kind)
		v := src.Float64()
		assert.True(t, v >= 0 && v < 1, kind)
	}

	src, err := FromName("", 7, "")
	require.NoError(t, err)
	assert.IsType(t, &Rand{}, src)

	src, err = FromName(KindRandomOrg, 0, "key")
	require.NoError(t, err)
	assert.IsType(t, &Client{}, src)

	_, err = FromName("dice", 0, "")
	assert.Error(t, err)
}
