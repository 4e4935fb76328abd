package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"edgemetrics/internal/model"
)

const (
	DefaultSocketTimeout = 5 * time.Second
	DefaultCooldown      = time.Second
	DefaultSamples       = 2

	defaultPort = "443"
	maxDrain    = 1 << 20
)

// ErrUnreachable is wrapped when a socket, TLS, or HTTP phase fails.
var ErrUnreachable = errors.New("target unreachable")

// UnreachableError reports which phase of a probe pass failed.
type UnreachableError struct {
	URL   string
	Phase string
	Err   error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.URL, e.Phase, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

func (e *UnreachableError) Is(target error) bool { return target == ErrUnreachable }

// Options configures a Prober. Zero values fall back to the defaults.
type Options struct {
	Client        *http.Client
	SocketTimeout time.Duration
	Cooldown      time.Duration
	Samples       int
	UserAgent     string
	// RootCAs overrides the system trust store for the raw TLS phase.
	RootCAs *x509.CertPool
}

// Prober measures timing breakdowns against endpoint URLs.
type Prober struct {
	client        *http.Client
	socketTimeout time.Duration
	cooldown      time.Duration
	samples       int
	userAgent     string
	rootCAs       *x509.CertPool
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewProber creates a Prober.
func NewProber(opts Options) *Prober {
	p := &Prober{
		client:        opts.Client,
		socketTimeout: opts.SocketTimeout,
		cooldown:      opts.Cooldown,
		samples:       opts.Samples,
		userAgent:     opts.UserAgent,
		rootCAs:       opts.RootCAs,
		sleep:         sleepContext,
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 10 * time.Second}
	}
	if p.socketTimeout <= 0 {
		p.socketTimeout = DefaultSocketTimeout
	}
	if p.cooldown <= 0 {
		p.cooldown = DefaultCooldown
	}
	if p.samples <= 0 {
		p.samples = DefaultSamples
	}
	return p
}

// Measurement is one probe pass plus what the server timing header said.
type Measurement struct {
	model.TimingSample
	Timing TimingResult
}

// Measure performs one timing pass against rawURL.
//
// Phases 1-3 run over a raw connection that only exists to time connect,
// handshake and first byte; phase 4 is an independent managed GET that
// supplies the round trip, status code and server timing.
func (p *Prober) Measure(ctx context.Context, rawURL string) (Measurement, error) {
	var m Measurement

	u, err := url.Parse(rawURL)
	if err != nil {
		return m, &UnreachableError{URL: rawURL, Phase: "parse", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return m, &UnreachableError{URL: rawURL, Phase: "parse", Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	if err := p.measureSocket(ctx, u, &m.TimingSample); err != nil {
		return m, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return m, &UnreachableError{URL: rawURL, Phase: "request", Err: err}
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return m, &UnreachableError{URL: rawURL, Phase: "request", Err: err}
	}
	m.RoundTrip = time.Since(start)
	m.HTTPStatus = resp.StatusCode
	m.Timing = ParseServerTiming(serverTimingHeader(resp.Header))
	m.ComputeMicros = m.Timing.ComputeMicros()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	resp.Body.Close()

	if err := p.sleep(ctx, p.cooldown); err != nil {
		return m, err
	}
	return m, nil
}

// serverTimingHeader joins every Server-Timing line; an intermediary's copy
// may arrive as a separate line ahead of the edge's.
func serverTimingHeader(h http.Header) string {
	return strings.Join(h.Values("Server-Timing"), ", ")
}

func (p *Prober) measureSocket(ctx context.Context, u *url.URL, sample *model.TimingSample) error {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	addr := net.JoinHostPort(host, port)

	dialer := &net.Dialer{Timeout: p.socketTimeout}
	start := time.Now()
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &UnreachableError{URL: u.String(), Phase: "tcp", Err: err}
	}
	sample.TCPConnect = time.Since(start)

	conn := raw
	defer func() { conn.Close() }()

	if u.Scheme == "https" {
		tlsConn := tls.Client(raw, &tls.Config{
			ServerName: host,
			RootCAs:    p.rootCAs,
		})
		_ = raw.SetDeadline(time.Now().Add(p.socketTimeout))
		start = time.Now()
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return &UnreachableError{URL: u.String(), Phase: "tls", Err: err}
		}
		sample.TLSHandshake = time.Since(start)
		conn = tlsConn
	}

	path := u.RequestURI()
	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nConnection: close\r\n\r\n", path, u.Host, p.userAgent)

	_ = conn.SetDeadline(time.Now().Add(p.socketTimeout))
	start = time.Now()
	if _, err := io.WriteString(conn, request); err != nil {
		return &UnreachableError{URL: u.String(), Phase: "ttfb", Err: err}
	}
	var first [1]byte
	if _, err := io.ReadFull(conn, first[:]); err != nil {
		return &UnreachableError{URL: u.String(), Phase: "ttfb", Err: err}
	}
	sample.TimeToFirstByte = time.Since(start)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
