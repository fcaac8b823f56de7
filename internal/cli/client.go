package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"delayd/internal/platform/httpclient"
)

// Job is a pending job as returned by the daemon.
type Job struct {
	ID      string          `json:"id"`
	Time    int64           `json:"time"`
	Message json.RawMessage `json:"message"`
}

// At returns the firing time.
func (j Job) At() time.Time { return time.UnixMilli(j.Time) }

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	ID      string          `json:"id,omitempty"`
	Time    int64           `json:"time"`
	Message json.RawMessage `json:"message"`
}

type listResponse struct {
	Count int   `json:"count"`
	Jobs  []Job `json:"jobs"`
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Client talks to the delayd HTTP API.
type Client struct {
	baseURL string
	hc      *httpclient.Client
}

// NewClient creates a Client for the daemon at baseURL.
func NewClient(baseURL string, opts ...httpclient.Option) *Client {
	base := []httpclient.Option{
		httpclient.WithTimeout(30 * time.Second),
		httpclient.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      httpclient.New(append(base, opts...)...),
	}
}

// CreateJob schedules a job.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	var job Job
	err := c.do(ctx, http.MethodPost, "/jobs", req, &job)
	return &job, err
}

// ListJobs returns the pending jobs in firing order.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var lr listResponse
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &lr); err != nil {
		return nil, err
	}
	return lr.Jobs, nil
}

// GetJob returns a pending job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil, &job)
	return &job, err
}

// RemoveJob cancels a pending job and returns it.
func (c *Client) RemoveJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := c.do(ctx, http.MethodDelete, "/jobs/"+id, nil, &job)
	return &job, err
}

// ClearJobs cancels every pending job.
func (c *Client) ClearJobs(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/jobs", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	_ = json.NewDecoder(resp.Body).Decode(apiErr)
	return apiErr
}
