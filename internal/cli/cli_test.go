package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delayd/internal/adapter/httpapi"
	"delayd/internal/delay"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type harness struct {
	sched *delay.Scheduler
	url   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := delay.New(delay.Config{Logger: log, Clock: delay.NewFakeClock(epoch)})
	t.Cleanup(sched.Stop)

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Config{Queue: sched, Logger: log}))
	t.Cleanup(srv.Close)
	return &harness{sched: sched, url: srv.URL}
}

func (h *harness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd("test", &stdout, &stderr)
	cmd.SetArgs(append([]string{"--api-url", h.url}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func ms(d time.Duration) string {
	return strconv.FormatInt(epoch.Add(d).UnixMilli(), 10)
}

func TestAdd(t *testing.T) {
	h := newHarness(t)

	stdout, stderr, err := h.run(t, "add", "--at", ms(time.Minute), "--message", `{"k":"v"}`, "--id", "job-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "job-1")
	assert.Contains(t, stdout, `{"k":"v"}`)
	assert.Contains(t, stderr, "Job job-1 scheduled")

	job, ok := h.sched.Find("job-1")
	require.True(t, ok)
	assert.Equal(t, epoch.Add(time.Minute).UnixMilli(), job.Time())
	assert.JSONEq(t, `{"k":"v"}`, string(job.Message().(json.RawMessage)))
}

func TestAdd_PlainTextMessage(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "add", "--at", epoch.Add(time.Hour).UTC().Format(time.RFC3339), "--message", "hello there", "--id", "txt")
	require.NoError(t, err)

	job, ok := h.sched.Find("txt")
	require.True(t, ok)
	assert.JSONEq(t, `"hello there"`, string(job.Message().(json.RawMessage)))
}

func TestAdd_FlagErrors(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "add", "--message", "x")
	assert.Error(t, err, "one of --at or --in is required")

	_, _, err = h.run(t, "add", "--at", ms(time.Minute), "--in", "1m", "--message", "x")
	assert.Error(t, err)

	_, _, err = h.run(t, "add", "--at", "tomorrow", "--message", "x")
	assert.ErrorContains(t, err, "invalid --at")
	assert.Zero(t, h.sched.Len())
}

func TestAdd_DuplicateID(t *testing.T) {
	h := newHarness(t)
	_, err := h.sched.Add(delay.Spec{ID: "dup", Time: ms(time.Minute), Message: 1}, true)
	require.NoError(t, err)

	_, _, err = h.run(t, "add", "--at", ms(time.Hour), "--message", "2", "--id", "dup")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "Conflict", apiErr.Kind)
}

func TestList(t *testing.T) {
	h := newHarness(t)
	_, err := h.sched.Add(delay.Spec{ID: "late", Time: ms(time.Hour), Message: "b"}, true)
	require.NoError(t, err)
	_, err = h.sched.Add(delay.Spec{ID: "soon", Time: ms(time.Second), Message: "a"}, true)
	require.NoError(t, err)

	stdout, _, err := h.run(t, "ls")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ID")
	assert.Contains(t, stdout, "--")
	assert.Less(t, bytes.Index([]byte(stdout), []byte("soon")), bytes.Index([]byte(stdout), []byte("late")))

	stdout, _, err = h.run(t, "--json", "ls")
	require.NoError(t, err)
	var jobs []Job
	require.NoError(t, json.Unmarshal([]byte(stdout), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, "soon", jobs[0].ID)
	assert.Equal(t, "late", jobs[1].ID)
}

func TestList_EmptyJSON(t *testing.T) {
	h := newHarness(t)
	stdout, _, err := h.run(t, "--json", "list")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, stdout)
}

func TestGetAndRemove(t *testing.T) {
	h := newHarness(t)
	_, err := h.sched.Add(delay.Spec{ID: "a", Time: ms(time.Minute), Message: "x"}, true)
	require.NoError(t, err)

	stdout, _, err := h.run(t, "--json", "get", "a")
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.Unmarshal([]byte(stdout), &job))
	assert.Equal(t, "a", job.ID)

	_, stderr, err := h.run(t, "rm", "a")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Job a removed")
	assert.False(t, h.sched.HasPendingJobs())

	_, _, err = h.run(t, "get", "a")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClear(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		_, err := h.sched.Add(delay.Spec{Time: ms(time.Duration(i) * time.Second), Message: i}, true)
		require.NoError(t, err)
	}

	_, _, err := h.run(t, "clear")
	assert.ErrorContains(t, err, "--yes")
	assert.Equal(t, 3, h.sched.Len())

	_, stderr, err := h.run(t, "clear", "-y")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Queue cleared")
	assert.Zero(t, h.sched.Len())
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListJobs(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "API error: HTTP 418", apiErr.Error())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
