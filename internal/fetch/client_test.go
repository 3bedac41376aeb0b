package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, baseURL string, cfg Config) (*Client, *[]time.Duration) {
	t.Helper()
	cfg.BaseURL = baseURL
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	c := New(cfg, zap.NewNop())
	delays := &[]time.Duration{}
	c.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return c, delays
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/clubs/583/players", r.URL.Path)
		w.Write([]byte(`{"data":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{MaxRetries: 2})
	payload, err := c.Fetch(context.Background(), "clubs/583/players")
	require.NoError(t, err)
	require.JSONEq(t, `{"data":[]}`, string(payload))
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchNotFoundSingleAttempt(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{MaxRetries: 2})
	payload, err := c.Fetch(context.Background(), "clubs/999/profile")
	require.NoError(t, err)
	require.Nil(t, payload)
	require.Equal(t, int32(1), hits.Load(), "404 must not be retried")
}

func TestFetchServerErrorExhaustsRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, delays := newTestClient(t, srv.URL, Config{
		MaxRetries:        2,
		RetryDelay:        100 * time.Millisecond,
		BackoffMultiplier: 2,
	})
	payload, err := c.Fetch(context.Background(), "competitions/MLS1/clubs")
	require.NoError(t, err)
	require.Nil(t, payload)
	require.Equal(t, int32(3), hits.Load(), "first attempt plus two retries")
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
}

func TestFetchRecoversAfterTransientError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{MaxRetries: 2})
	payload, err := c.Fetch(context.Background(), "clubs/583/profile")
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(payload))
	require.Equal(t, int32(2), hits.Load())
}

func TestFetchUnparseableBodyIsRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Write([]byte(`<html>upstream proxy error</html>`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"data":[{"club_id":"583"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{MaxRetries: 2})
	payload, err := c.Fetch(context.Background(), "clubs/583/players")
	require.NoError(t, err)
	require.NotNil(t, payload)
	require.Equal(t, int32(2), hits.Load())
}

func TestFetchUnexpectedStatusIsTerminal(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{MaxRetries: 2})
	payload, err := c.Fetch(context.Background(), "clubs/583/profile")
	require.NoError(t, err)
	require.Nil(t, payload)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestClient(t, srv.URL, Config{MaxRetries: 5})
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	payload, err := c.Fetch(ctx, "clubs/583/profile")
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, payload)
}

func TestFetchFirstRequestWaitsForSpacing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, Config{RateLimitDelay: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Fetch(context.Background(), "clubs/583/players")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond,
		"spacing applies to a fresh client's very first request")
}

func TestProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/docs" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ok := New(Config{BaseURL: srv.URL, ProbePath: "docs"}, zap.NewNop())
	require.NoError(t, ok.Probe(context.Background()))

	bad := New(Config{BaseURL: srv.URL, ProbePath: "down"}, zap.NewNop())
	require.Error(t, bad.Probe(context.Background()))
}
