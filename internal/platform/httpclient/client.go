package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	randv2 "math/rand/v2"
	stdhttp "net/http"
	"net/url"
	"strconv"
	"time"

	"delayd/pkg/retry"
)

// Client wraps http.Client with logging and retries.
type Client struct {
	hc               *stdhttp.Client
	log              *slog.Logger
	retries          int
	baseBackoff      time.Duration
	maxBackoff       time.Duration
	maxRetryDuration time.Duration
	maxReplayBody    int64
	headers          map[string]string
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		if t > 0 {
			c.hc.Timeout = t
		}
	}
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetries enables up to n retries with exponential backoff and jitter.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		if backoff > 0 {
			c.baseBackoff = backoff
		}
	}
}

// WithMaxBackoff limits exponential backoff growth.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.maxBackoff = d
		}
	}
}

// WithMaxRetryDuration limits total time spent on retries.
func WithMaxRetryDuration(d time.Duration) Option {
	return func(c *Client) { c.maxRetryDuration = d }
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 16
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 10 * time.Second

	c := &Client{
		hc:            &stdhttp.Client{Timeout: 15 * time.Second, Transport: tr},
		log:           slog.Default(),
		baseBackoff:   200 * time.Millisecond,
		maxBackoff:    30 * time.Second,
		maxReplayBody: 1 << 20,
		headers:       make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ErrReplayBodyTooLarge indicates request body exceeds replay limit.
var ErrReplayBodyTooLarge = errors.New("http: body too large for replay")

// StatusError reports a response whose status asked for a retry.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// retryableStatus reports whether a response status is worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case 408, 421, 425, 429:
		return true
	default:
		return code >= 500
	}
}

// retryAfter parses Retry-After header value.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := stdhttp.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

// canRetry allows retries for idempotent methods and for POSTs carrying an
// Idempotency-Key header.
func canRetry(req *stdhttp.Request) bool {
	switch req.Method {
	case stdhttp.MethodGet, stdhttp.MethodHead, stdhttp.MethodOptions,
		stdhttp.MethodPut, stdhttp.MethodDelete:
		return true
	case stdhttp.MethodPost:
		return req.Header.Get("Idempotency-Key") != ""
	default:
		return false
	}
}

// bufferBody makes the request body replayable across attempts.
func (c *Client) bufferBody(req *stdhttp.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	defer req.Body.Close()

	r := io.Reader(req.Body)
	if c.maxReplayBody > 0 {
		r = io.LimitReader(req.Body, c.maxReplayBody+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if c.maxReplayBody > 0 && int64(len(body)) > c.maxReplayBody {
		return ErrReplayBodyTooLarge
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.Body, _ = req.GetBody()
	return nil
}

// Do sends HTTP request with context, logging and retries. A response whose
// status is not retryable is returned as is; the caller closes its body.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if err := c.bufferBody(req); err != nil {
		return nil, err
	}

	attempts := 1
	if canRetry(req) {
		attempts += c.retries
	}

	base := c.baseBackoff
	if base > c.maxBackoff {
		base = c.maxBackoff
	}
	cfg := retry.Config{
		MaxAttempts:    attempts,
		InitialDelay:   base,
		MaxDelay:       c.maxBackoff,
		MaxElapsedTime: c.maxRetryDuration,
		NextDelay: func(attempt int, err error) (time.Duration, bool) {
			var se *StatusError
			if errors.As(err, &se) && se.RetryAfter > 0 {
				return min(se.RetryAfter, c.maxBackoff), true
			}
			wait := base << uint(attempt-1)
			if wait <= 0 || wait > c.maxBackoff {
				wait = c.maxBackoff
			}
			wait += time.Duration(randv2.Int64N(int64(wait)))
			return min(wait, c.maxBackoff), true
		},
	}

	u := redactURL(req.URL)
	attempt := 0
	var resp *stdhttp.Response
	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		attempt++
		r := req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
		if r.GetBody != nil {
			body, err := r.GetBody()
			if err != nil {
				return retry.Permanent(err)
			}
			r.Body = body
		}

		st := time.Now()
		res, err := c.hc.Do(r)
		dur := time.Since(st)
		if err != nil {
			c.log.Warn("http request error", slog.String("method", r.Method), slog.String("url", u), slog.Int("attempt", attempt), slog.Any("error", err))
			return err
		}
		if retryableStatus(res.StatusCode) {
			if res.StatusCode == 421 {
				c.hc.CloseIdleConnections()
			}
			se := &StatusError{
				Method:     r.Method,
				URL:        u,
				StatusCode: res.StatusCode,
				RetryAfter: retryAfter(res.Header.Get("Retry-After")),
			}
			drainAndClose(res.Body)
			c.log.Warn("http request status", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", res.StatusCode), slog.Int("attempt", attempt), slog.Duration("retry_after", se.RetryAfter))
			return se
		}
		c.log.Info("http request", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", res.StatusCode), slog.Duration("dur", dur), slog.Int("attempt", attempt))
		resp = res
		return nil
	}, isRetryable)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isRetryable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) || retry.DefaultRetryable(err)
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Redacted()
}
