// Package proxy owns the anonymizing SOCKS circuit and its rotation
// policy. All scrape traffic on the primary path goes through one
// CircuitManager; after a configured number of proxied requests it asks
// the proxy's control channel for a new network identity.
package proxy

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// ProxyError marks the anonymizing connection itself as unavailable, as
// opposed to an HTTP-level failure from the target site. Callers fall
// back to a direct fetch instead of failing the job.
type ProxyError struct {
	Err error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy circuit: %v", e.Err)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// Config for the circuit manager.
type Config struct {
	Host             string
	Port             int
	ControlPort      int
	ControlPassword  string
	RotationRequests int
	Timeout          time.Duration
}

// CircuitManager issues HTTP requests through a SOCKS5 proxy and rotates
// the circuit every RotationRequests proxied fetches. The request counter
// is the only state shared across concurrent jobs and is updated
// atomically.
type CircuitManager struct {
	client    *http.Client
	ctrlAddr  string
	ctrlPass  string
	threshold int64
	count     atomic.Int64
	logger    *slog.Logger
}

// New builds a CircuitManager. The SOCKS dialer is constructed eagerly;
// connection failures surface per request as *ProxyError.
func New(cfg Config, logger *slog.Logger) (*CircuitManager, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dialer, err := xproxy.SOCKS5("tcp", addr, nil, &net.Dialer{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer for %s: %w", addr, err)
	}

	transport := &http.Transport{
		Dial:                dialer.Dial,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}

	return &CircuitManager{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		ctrlAddr:  fmt.Sprintf("%s:%d", cfg.Host, cfg.ControlPort),
		ctrlPass:  cfg.ControlPassword,
		threshold: int64(cfg.RotationRequests),
		logger:    logger.With("component", "proxy"),
	}, nil
}

// Do executes the request through the circuit. Transport-level failures
// (proxy unreachable, SOCKS handshake refused) are returned as
// *ProxyError so the fetcher can degrade to a direct connection.
func (m *CircuitManager) Do(req *http.Request) (*http.Response, error) {
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &ProxyError{Err: err}
	}
	return resp, nil
}

// RecordRequest counts one successful proxied fetch. When the counter
// reaches the rotation threshold it is reset and a new identity is
// requested. Rotation failure is non-fatal: the warning is logged and
// scraping continues on the existing circuit.
func (m *CircuitManager) RecordRequest() {
	if m.threshold <= 0 {
		return
	}

	if n := m.count.Add(1); n >= m.threshold {
		// Only the goroutine that crosses the threshold rotates;
		// CompareAndSwap keeps concurrent crossers from double-firing.
		if m.count.CompareAndSwap(n, 0) {
			if err := m.Rotate(); err != nil {
				m.logger.Warn("circuit rotation failed, continuing on current circuit",
					"error", err,
				)
			} else {
				m.logger.Info("circuit rotated", "after_requests", n)
			}
		}
	}
}

// RequestCount reports requests since the last rotation.
func (m *CircuitManager) RequestCount() int64 {
	return m.count.Load()
}

// Rotate asks the proxy control channel for a new network identity
// (AUTHENTICATE, then SIGNAL NEWNYM; both must answer 250).
func (m *CircuitManager) Rotate() error {
	conn, err := net.DialTimeout("tcp", m.ctrlAddr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial control port: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	if err := controlCmd(conn, r, fmt.Sprintf("AUTHENTICATE %q", m.ctrlPass)); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if err := controlCmd(conn, r, "SIGNAL NEWNYM"); err != nil {
		return fmt.Errorf("signal newnym: %w", err)
	}

	return nil
}

func controlCmd(conn net.Conn, r *bufio.Reader, cmd string) error {
	if _, err := fmt.Fprintf(conn, "%s\r\n", cmd); err != nil {
		return err
	}

	line, err := r.ReadString('\n')
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "250") {
		return fmt.Errorf("unexpected reply %q", strings.TrimSpace(line))
	}

	return nil
}
