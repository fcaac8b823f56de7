package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delayd/internal/config"
)

func testConfig(driver string) config.Config {
	var cfg config.Config
	cfg.Env = "dev"
	cfg.Store.Driver = driver
	cfg.Callback.Timeout = 5 * time.Second
	cfg.Callback.Concurrency = 4
	cfg.Maintenance.Schedule = "@every 1h"
	return cfg
}

type daemon struct {
	url  string
	stop func() error
}

func start(t *testing.T, cfg config.Config) *daemon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	a := NewWithConfig(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { done <- a.Serve(ctx, ln) }()

	d := &daemon{url: "http://" + ln.Addr().String()}
	stopped := false
	d.stop = func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		return <-done
	}
	t.Cleanup(func() { _ = d.stop() })

	require.Eventually(t, func() bool {
		resp, err := http.Get(d.url + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	return d
}

func (d *daemon) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(d.url+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (d *daemon) jobs(t *testing.T) []string {
	t.Helper()
	resp, err := http.Get(d.url + "/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Jobs []struct {
			ID string `json:"id"`
		} `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	ids := make([]string, len(body.Jobs))
	for i, j := range body.Jobs {
		ids[i] = j.ID
	}
	return ids
}

func TestServe_FiresCallback(t *testing.T) {
	var hits atomic.Int32
	var fromDelayd atomic.Bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromDelayd.Store(r.Header.Get("From-Delayd") == "true")
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	d := start(t, testConfig("memory"))

	at := time.Now().Add(50 * time.Millisecond).UnixMilli()
	resp := d.post(t, "/jobs", fmt.Sprintf(`{"time":%d,"message":{"callbackUrl":%q}}`, at, target.URL))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Eventually(t, func() bool { return hits.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, fromDelayd.Load())
	assert.Empty(t, d.jobs(t))
	require.NoError(t, d.stop())
}

func TestServe_RestoresFromSQLite(t *testing.T) {
	cfg := testConfig("sqlite")
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "delayd.db")
	at := time.Now().Add(time.Hour).UnixMilli()

	d := start(t, cfg)
	resp := d.post(t, "/jobs", fmt.Sprintf(`{"id":"kept","time":%d,"message":"hello"}`, at))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = d.post(t, "/jobs", fmt.Sprintf(`{"id":"gone","time":%d,"message":"bye"}`, at+1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, d.url+"/jobs/gone", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	require.Equal(t, http.StatusOK, del.StatusCode)
	require.NoError(t, d.stop())

	d = start(t, cfg)
	assert.Equal(t, []string{"kept"}, d.jobs(t))
}

func TestServe_MetricsAndSelfScheduleGuard(t *testing.T) {
	d := start(t, testConfig("memory"))

	req, err := http.NewRequest(http.MethodPost, d.url+fmt.Sprintf("/add/%d", time.Now().Add(time.Hour).UnixMilli()), bytes.NewBufferString(`{"a":1}`))
	require.NoError(t, err)
	req.Header.Set("From-Delayd", "true")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Empty(t, d.jobs(t))

	resp, err = http.Get(d.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "delayd_jobs_pending")
	assert.Contains(t, string(body), "delayd_http_requests_total")
}

func TestServe_UnknownStore(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	a := NewWithConfig(testConfig("etcd"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	err = a.Serve(context.Background(), ln)
	assert.ErrorContains(t, err, `unknown store driver "etcd"`)
}
