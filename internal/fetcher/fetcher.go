// Package fetcher retrieves raw product HTML, pacing requests per domain
// and preferring the anonymizing circuit with a direct-connection
// fallback.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/shakerg/ShopperPlus/internal/proxy"
)

// FetchError reports a failed page retrieval on both the proxy and the
// fallback path. StatusCode is zero when no HTTP response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// userAgents is the fixed rotation pool; one is picked at random per
// fetch.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// CircuitClient is the proxy-path HTTP client (the circuit manager).
type CircuitClient interface {
	Do(req *http.Request) (*http.Response, error)
	RecordRequest()
}

// DomainPacer tracks when a domain was last scraped. Implemented by the
// cache layer; misses mean "never", so pacing is best-effort.
type DomainPacer interface {
	LastScraped(ctx context.Context, host string) (time.Time, bool)
	TouchDomain(ctx context.Context, host string, at time.Time)
}

// Page is a fetched document. FinalURL reflects redirects.
type Page struct {
	StatusCode int
	Body       []byte
	FinalURL   string
}

// Config for the fetcher.
type Config struct {
	DomainDelay     time.Duration
	FallbackTimeout time.Duration
}

// Fetcher issues paced GETs through the circuit, falling back to a
// direct client when the circuit is unavailable. Degrade-not-fail: loss
// of anonymity is preferred over a failed job.
type Fetcher struct {
	circuit  CircuitClient
	fallback *http.Client
	pacer    DomainPacer
	delay    time.Duration
	logger   *slog.Logger
}

func New(circuit CircuitClient, pacer DomainPacer, cfg Config, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		circuit:  circuit,
		fallback: &http.Client{Timeout: cfg.FallbackTimeout},
		pacer:    pacer,
		delay:    cfg.DomainDelay,
		logger:   logger.With("component", "fetcher"),
	}
}

// Fetch retrieves the page at rawURL. The per-domain stamp is updated
// after every attempt, success or failure, so pacing holds regardless of
// outcome.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("not an absolute http(s) url")}
	}

	if err := f.pace(ctx, u.Hostname()); err != nil {
		return nil, err
	}
	// The stamp must reflect when the attempt finished, so the timestamp
	// is taken when the deferred call runs, not when it is registered.
	defer func() { f.pacer.TouchDomain(ctx, u.Hostname(), time.Now()) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.circuit.Do(req)
	if err != nil {
		var perr *proxy.ProxyError
		if !errors.As(err, &perr) {
			return nil, &FetchError{URL: rawURL, Err: err}
		}

		f.logger.Warn("circuit unavailable, falling back to direct fetch",
			"url", rawURL,
			"error", err,
		)

		resp, err = f.fallback.Do(req.Clone(ctx))
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		return f.readPage(rawURL, resp, false)
	}

	return f.readPage(rawURL, resp, true)
}

// pace sleeps out the remainder of the per-domain delay. This is a
// courtesy limit, not a lock: jobs for the same domain scheduled in the
// same chunk may still overlap.
func (f *Fetcher) pace(ctx context.Context, host string) error {
	last, ok := f.pacer.LastScraped(ctx, host)
	if !ok {
		return nil
	}

	remaining := f.delay - time.Since(last)
	if remaining <= 0 {
		return nil
	}

	f.logger.Debug("pacing domain", "host", host, "wait", remaining)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(remaining):
		return nil
	}
}

func (f *Fetcher) readPage(rawURL string, resp *http.Response, viaProxy bool) (*Page, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}

	// Only proxy-path successes count toward circuit rotation; fallback
	// fetches do not burn circuit budget.
	if viaProxy {
		f.circuit.RecordRequest()
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Page{
		StatusCode: resp.StatusCode,
		Body:       body,
		FinalURL:   finalURL,
	}, nil
}
