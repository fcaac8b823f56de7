// Package callback posts fired jobs back to the URL their message names.
//
// A message is eligible when it is a JSON object with a string callbackUrl.
// The message itself is the request body. Every request carries
// From-Delayd: true, which the HTTP API uses to refuse scheduling a callback
// as a new job, and Idempotency-Key set to the job id so the client may retry
// the POST.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"delayd/internal/delay"
)

// HeaderFromDelayd marks requests made by the daemon itself.
const HeaderFromDelayd = "From-Delayd"

// Doer sends one request. *httpclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config configures a Notifier.
type Config struct {
	Client Doer
	Logger *slog.Logger
	// Timeout bounds one delivery including retries (default 30s).
	Timeout time.Duration
	// Concurrency caps in-flight deliveries (default 16).
	Concurrency int
	// Results, when set, is incremented with label "ok", "failed" or "skipped".
	Results *prometheus.CounterVec
}

// Notifier delivers job events as HTTP callbacks.
type Notifier struct {
	client  Doer
	log     *slog.Logger
	timeout time.Duration
	sem     chan struct{}
	results *prometheus.CounterVec

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Notifier. cfg.Client is required.
func New(cfg Config) *Notifier {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		client:  cfg.Client,
		log:     log.With("component", "callback"),
		timeout: cfg.Timeout,
		sem:     make(chan struct{}, cfg.Concurrency),
		results: cfg.Results,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Bind subscribes to job events and returns the unsubscribe func.
func (n *Notifier) Bind(sched *delay.Scheduler) func() {
	return sched.OnJob(n.Handle)
}

// Handle starts delivery for job in the background. Jobs without a
// callback URL are ignored.
func (n *Notifier) Handle(job delay.Job) {
	body, target, ok := callbackOf(job.Message())
	if !ok {
		return
	}
	if n.ctx.Err() != nil {
		n.record("skipped")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case n.sem <- struct{}{}:
		case <-n.ctx.Done():
			n.record("skipped")
			return
		}
		defer func() { <-n.sem }()

		if err := n.deliver(job.ID(), target, body); err != nil {
			n.log.Warn("callback failed", "job_id", job.ID(), "url", target.Redacted(), "error", err)
			n.record("failed")
			return
		}
		n.record("ok")
	}()
}

// Close cancels pending deliveries and waits for running ones to return.
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}

// Wait blocks until every started delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(id string, target *url.URL, body []byte) error {
	ctx, cancel := context.WithTimeout(n.ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderFromDelayd, "true")
	req.Header.Set("Idempotency-Key", id)

	resp, err := n.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	n.log.Debug("callback delivered", "job_id", id, "status", resp.StatusCode)
	return nil
}

func (n *Notifier) record(result string) {
	if n.results != nil {
		n.results.WithLabelValues(result).Inc()
	}
}

// callbackOf encodes msg and extracts an absolute http(s) callbackUrl from it.
func callbackOf(msg any) ([]byte, *url.URL, bool) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, false
	}
	var probe struct {
		CallbackURL json.RawMessage `json:"callbackUrl"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || len(probe.CallbackURL) == 0 {
		return nil, nil, false
	}
	var raw string
	if err := json.Unmarshal(probe.CallbackURL, &raw); err != nil {
		return nil, nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, nil, false
	}
	return body, u, true
}
