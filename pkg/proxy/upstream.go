package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mercator-hq/llmtap/pkg/capture"
)

// UpstreamConfig configures the connection pool to the upstream server.
type UpstreamConfig struct {
	// BaseURL is joined with the incoming path and query.
	BaseURL string

	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int

	// ReadBufferSize bounds the size of a single body part.
	ReadBufferSize int

	// EventBuffer is the capacity of the channel between the upstream
	// reader and the relay loop.
	EventBuffer int
}

const (
	defaultReadBufferSize = 32 << 10
	defaultEventBuffer    = 16
)

// Upstream issues requests to one upstream server over a shared pool.
type Upstream struct {
	base    *url.URL
	client  *http.Client
	readBuf int
	events  int
	logger  *slog.Logger
}

// NewUpstream creates an Upstream. The transport never negotiates
// compression on its own and speaks HTTP/1.1, so response bytes and
// chunked framing arrive as the server sent them.
func NewUpstream(cfg UpstreamConfig, logger *slog.Logger) (*Upstream, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid upstream base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
	}

	u := &Upstream{
		base:    base,
		client:  &http.Client{Transport: transport},
		readBuf: cfg.ReadBufferSize,
		events:  cfg.EventBuffer,
		logger:  logger.With("component", "proxy.upstream"),
	}
	if u.readBuf <= 0 {
		u.readBuf = defaultReadBufferSize
	}
	if u.events <= 0 {
		u.events = defaultEventBuffer
	}
	// Redirects are the client's business.
	u.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return u, nil
}

// Target returns the upstream URL for an incoming request URI.
func (u *Upstream) Target(requestURI *url.URL) string {
	t := *u.base
	t.Path = strings.TrimSuffix(u.base.Path, "/") + requestURI.Path
	if requestURI.RawPath != "" {
		t.RawPath = strings.TrimSuffix(u.base.EscapedPath(), "/") + requestURI.RawPath
	} else {
		t.RawPath = ""
	}
	t.RawQuery = requestURI.RawQuery
	return t.String()
}

// Ping opens and closes a TCP connection to the upstream host. It does
// not send a request, so nothing reaches the upstream's request log.
func (u *Upstream) Ping(ctx context.Context) error {
	host := u.base.Host
	if u.base.Port() == "" {
		port := "80"
		if u.base.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.base.Hostname(), port)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return &UpstreamUnavailableError{URL: u.base.String(), Cause: err}
	}
	return conn.Close()
}

// CloseIdleConnections releases pooled connections.
func (u *Upstream) CloseIdleConnections() {
	u.client.CloseIdleConnections()
}

// Head is the upstream response head.
type Head struct {
	Status  int
	Headers capture.Headers
	Version string
	// Chunked is true when the response used chunked transfer encoding.
	Chunked bool
}

// Event is one item of an EventStream: the head or a body part.
type Event struct {
	Head *Head
	Body []byte
	err  error
}

// EventStream delivers the head, then body parts in arrival order. It is
// produced by a single goroutine and consumed by a single caller.
type EventStream struct {
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// Next returns the next event. It returns io.EOF once the upstream body
// completed and the upstream error when the fetch failed.
func (s *EventStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			// A cancelled producer closes the channel without reaching
			// the end of the body.
			if err := s.ctx.Err(); err != nil {
				return Event{}, err
			}
			return Event{}, io.EOF
		}
		if ev.err != nil {
			return Event{}, ev.err
		}
		return ev, nil
	}
}

// Cancel aborts the upstream fetch. It is safe to call more than once.
func (s *EventStream) Cancel() {
	s.cancel()
}

// Stream sends req upstream and returns its events. The fetch runs until
// completion, failure, Cancel or the end of ctx. Parts read ahead of the
// consumer wait in the channel; only the consumer decides what is kept.
func (u *Upstream) Stream(ctx context.Context, req *http.Request) *EventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &EventStream{
		events: make(chan Event, u.events),
		ctx:    ctx,
		cancel: cancel,
	}
	go u.produce(ctx, req.WithContext(ctx), s.events)
	return s
}

func (u *Upstream) produce(ctx context.Context, req *http.Request, events chan<- Event) {
	defer close(events)

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	target := req.URL.String()
	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Debug("upstream request failed", "url", target, "error", err)
		send(Event{err: &UpstreamUnavailableError{URL: target, Cause: err}})
		return
	}
	defer resp.Body.Close()

	head := &Head{
		Status:  resp.StatusCode,
		Headers: capture.HeadersFromHTTP(resp.Header),
		Version: resp.Proto,
		Chunked: isChunked(resp),
	}
	if head.Chunked && !head.Headers.Has("Transfer-Encoding") {
		head.Headers = append(head.Headers, capture.Header{Name: "Transfer-Encoding", Value: "chunked"})
	}
	if !send(Event{Head: head}) {
		return
	}

	buf := make([]byte, u.readBuf)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if !send(Event{Body: bytes.Clone(buf[:n])}) {
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				u.logger.Warn("upstream body read failed", "url", target, "error", err)
			}
			send(Event{err: &UpstreamBodyError{URL: target, Cause: err}})
			return
		}
	}
}

func isChunked(resp *http.Response) bool {
	for _, te := range resp.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	return capture.HeadersFromHTTP(resp.Header).Contains("Transfer-Encoding", "chunked")
}
