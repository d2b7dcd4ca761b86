package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shakerg/ShopperPlus/internal/proxy"
)

// passthroughCircuit sends requests over a plain client, standing in for
// a working proxy path.
type passthroughCircuit struct {
	client   *http.Client
	recorded int
}

func (c *passthroughCircuit) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

func (c *passthroughCircuit) RecordRequest() { c.recorded++ }

// downCircuit always fails with a circuit-unavailable error.
type downCircuit struct {
	recorded int
}

func (c *downCircuit) Do(*http.Request) (*http.Response, error) {
	return nil, &proxy.ProxyError{Err: errors.New("connection refused")}
}

func (c *downCircuit) RecordRequest() { c.recorded++ }

// memPacer is an in-memory DomainPacer.
type memPacer struct {
	mu      sync.Mutex
	stamps  map[string]time.Time
	touched []string
}

func newMemPacer() *memPacer {
	return &memPacer{stamps: make(map[string]time.Time)}
}

func (p *memPacer) LastScraped(_ context.Context, host string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.stamps[host]
	return t, ok
}

func (p *memPacer) TouchDomain(_ context.Context, host string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stamps[host] = at
	p.touched = append(p.touched, host)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestFetcher(circuit CircuitClient, pacer DomainPacer, delay time.Duration) *Fetcher {
	return New(circuit, pacer, Config{
		DomainDelay:     delay,
		FallbackTimeout: 5 * time.Second,
	}, testLogger())
}

func TestFetch_SuccessViaProxyPath(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	circuit := &passthroughCircuit{client: srv.Client()}
	f := newTestFetcher(circuit, newMemPacer(), 0)

	page, err := f.Fetch(context.Background(), srv.URL+"/p/1")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, []byte("<html>ok</html>"), page.Body)
	assert.Contains(t, gotUA, "Mozilla/5.0")
	assert.Equal(t, 1, circuit.recorded, "proxy-path success counts toward rotation")
}

func TestFetch_FallsBackToDirectOnCircuitFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("direct"))
	}))
	defer srv.Close()

	circuit := &downCircuit{}
	f := newTestFetcher(circuit, newMemPacer(), 0)

	page, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, []byte("direct"), page.Body)
	assert.Equal(t, 0, circuit.recorded, "fallback fetches do not burn circuit budget")
}

func TestFetch_HTTPErrorStatus(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		circuit := &passthroughCircuit{client: srv.Client()}
		f := newTestFetcher(circuit, newMemPacer(), 0)

		page, err := f.Fetch(context.Background(), srv.URL)

		require.Error(t, err)
		assert.Nil(t, page)
		var ferr *FetchError
		require.ErrorAs(t, err, &ferr)
		assert.Equal(t, status, ferr.StatusCode)
		assert.Equal(t, 0, circuit.recorded)

		srv.Close()
	}
}

func TestFetch_RejectsInvalidURLs(t *testing.T) {
	f := newTestFetcher(&downCircuit{}, newMemPacer(), 0)

	for _, raw := range []string{
		"not a url",
		"/relative/path",
		"ftp://example.com/file",
		"",
	} {
		page, err := f.Fetch(context.Background(), raw)
		require.Error(t, err, raw)
		assert.Nil(t, page)
		var ferr *FetchError
		assert.ErrorAs(t, err, &ferr)
	}
}

func TestFetch_PacesRepeatedDomainHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	circuit := &passthroughCircuit{client: srv.Client()}
	pacer := newMemPacer()
	delay := 150 * time.Millisecond
	f := newTestFetcher(circuit, pacer, delay)

	ctx := context.Background()

	_, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	start := time.Now()
	_, err = f.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), delay-20*time.Millisecond,
		"second hit on the same domain must wait out the delay")
}

func TestFetch_PacingCancelledByContext(t *testing.T) {
	pacer := newMemPacer()
	pacer.TouchDomain(context.Background(), "127.0.0.1", time.Now())

	f := newTestFetcher(&downCircuit{}, pacer, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, "http://127.0.0.1:1/")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetch_TouchesDomainAfterFailureToo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pacer := newMemPacer()
	f := newTestFetcher(&passthroughCircuit{client: srv.Client()}, pacer, 0)

	_, err := f.Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	assert.Len(t, pacer.touched, 1, "pacing stamp updates on failed attempts as well")
}

func TestFetch_DomainStampRecordsAttemptEnd(t *testing.T) {
	serverDelay := 150 * time.Millisecond
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(serverDelay)
		w.Write([]byte("slow"))
	}))
	defer srv.Close()

	pacer := newMemPacer()
	f := newTestFetcher(&passthroughCircuit{client: srv.Client()}, pacer, 0)

	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	stamp, ok := pacer.LastScraped(context.Background(), "127.0.0.1")
	require.True(t, ok)
	assert.GreaterOrEqual(t, stamp.Sub(start), serverDelay-20*time.Millisecond,
		"stamp must be taken after the fetch completes, or a slow fetch erodes the courtesy delay")
}

func TestFetch_FinalURLReflectsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(&passthroughCircuit{client: srv.Client()}, newMemPacer(), 0)

	page, err := f.Fetch(context.Background(), srv.URL+"/old")

	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/new", page.FinalURL)
	assert.Equal(t, []byte("moved"), page.Body)
}

func TestFetchError_Message(t *testing.T) {
	withStatus := &FetchError{URL: "https://x.test/p", StatusCode: 404}
	assert.Contains(t, withStatus.Error(), "status 404")

	wrapped := errors.New("dial timeout")
	withErr := &FetchError{URL: "https://x.test/p", Err: wrapped}
	assert.Contains(t, withErr.Error(), "dial timeout")
	assert.ErrorIs(t, withErr, wrapped)
}
