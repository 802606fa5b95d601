package mog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// ByteSource opens containers by name. Open never fails: when the data
// cannot be had it logs why and returns an empty stream. Callers must close
// the returned stream.
type ByteSource interface {
	// Open returns the bytes of rng, or of the whole resource when rng is nil.
	Open(ctx context.Context, name string, rng *ByteRange) io.ReadCloser
}

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 10 * time.Second
)

// HTTPSource fetches containers with plain GET requests, using a Range
// header when a byte range is asked for.
type HTTPSource struct {
	client      *http.Client
	readTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics
}

// HTTPSourceOption configures an HTTPSource.
type HTTPSourceOption func(*HTTPSource)

// WithHTTPClient replaces the client built from the timeouts.
func WithHTTPClient(c *http.Client) HTTPSourceOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithSourceLogger sets the logger used for fetch diagnostics.
func WithSourceLogger(l *slog.Logger) HTTPSourceOption {
	return func(s *HTTPSource) { s.logger = l }
}

// WithSourceMetrics records every request in m.
func WithSourceMetrics(m *Metrics) HTTPSourceOption {
	return func(s *HTTPSource) { s.metrics = m }
}

// NewHTTPSource returns a source whose connections time out after
// connectTimeout. Responses must start within readTimeout and the body is
// abandoned when a read waits longer than readTimeout for data.
func NewHTTPSource(connectTimeout, readTimeout time.Duration, opts ...HTTPSourceOption) *HTTPSource {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = readTimeout

	s := &HTTPSource{
		client:      &http.Client{Transport: transport},
		readTimeout: readTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open implements ByteSource.
func (s *HTTPSource) Open(ctx context.Context, url string, rng *ByteRange) io.ReadCloser {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		s.logger.Error("failed to create request", "url", url, "error", err)
		s.metrics.observeRequest("error")
		return emptyBody()
	}

	want := http.StatusOK
	if rng != nil {
		req.Header.Set("Range", rng.Header())
		want = http.StatusPartialContent
	}

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		s.logger.Warn("http request failed", "url", url, "range", rangeAttr(rng), "error", err)
		s.metrics.observeRequest("error")
		return emptyBody()
	}

	if resp.StatusCode != want {
		resp.Body.Close()
		cancel()
		level := slog.LevelWarn
		if resp.StatusCode == http.StatusNotFound {
			level = slog.LevelInfo
		}
		s.logger.Log(ctx, level, "unexpected http status", "url", url, "range", rangeAttr(rng), "status", resp.Status)
		s.metrics.observeRequest(statusLabel(resp.StatusCode))
		if resp.StatusCode == http.StatusNotFound {
			return notFoundBody()
		}
		return emptyBody()
	}

	s.metrics.observeRequest(statusLabel(resp.StatusCode))
	body := newStallBody(resp.Body, s.readTimeout, cancel)
	body.onStall = func() {
		s.logger.Warn("http body read stalled", "url", url, "range", rangeAttr(rng), "timeout", s.readTimeout)
	}
	return &countingBody{ReadCloser: body, metrics: s.metrics}
}

func rangeAttr(rng *ByteRange) string {
	if rng == nil {
		return "full"
	}
	return rng.Header()
}

func statusLabel(code int) string {
	switch code {
	case http.StatusOK:
		return "200"
	case http.StatusPartialContent:
		return "206"
	case http.StatusNotFound:
		return "404"
	}
	return "other"
}

// unavailableBody stands in for data that could not be fetched.
type unavailableBody struct {
	io.Reader
	notFound bool
}

func (unavailableBody) Close() error { return nil }

func emptyBody() io.ReadCloser {
	return unavailableBody{Reader: strings.NewReader("")}
}

func notFoundBody() io.ReadCloser {
	return unavailableBody{Reader: strings.NewReader(""), notFound: true}
}

// IsNotFound reports whether rc was returned by a ByteSource because the
// resource does not exist, as opposed to a transient failure.
func IsNotFound(rc io.ReadCloser) bool {
	u, ok := rc.(unavailableBody)
	return ok && u.notFound
}

// countingBody adds the bytes read through it to the fetched-bytes counter.
type countingBody struct {
	io.ReadCloser
	metrics *Metrics
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.metrics.addBytes(n)
	return n, err
}

// stallBody cancels its request when a single Read waits longer than
// timeout. A zero timeout disables the check.
type stallBody struct {
	io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	onStall func()
}

func newStallBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *stallBody {
	b := &stallBody{ReadCloser: rc, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, cancel)
		b.timer.Stop()
	}
	return b
}

func (b *stallBody) Read(p []byte) (int, error) {
	if b.timer == nil {
		return b.ReadCloser.Read(p)
	}
	b.timer.Reset(b.timeout)
	n, err := b.ReadCloser.Read(p)
	if !b.timer.Stop() && err != nil && err != io.EOF {
		if b.onStall != nil {
			b.onStall()
		}
		err = fmt.Errorf("no data within %s: %w", b.timeout, err)
	}
	return n, err
}

func (b *stallBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
