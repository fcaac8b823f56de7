package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestNew_DualOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "delayd.log")
	var console bytes.Buffer

	logger := New(Options{
		Env:          "prod",
		ConsoleLevel: "warn",
		FileLevel:    "debug",
		File:         logFile,
		App:          "delayd",
		Console:      &console,
	})

	logger.Debug("timer armed", "job_id", "a")
	logger.Info("job fired", "job_id", "a")
	logger.Warn("store unavailable")
	require.NoError(t, Close(logger))

	content := readLog(t, logFile)
	assert.Contains(t, content, "timer armed")
	assert.Contains(t, content, "job fired")
	assert.Contains(t, content, `"level":"DEBUG"`)
	assert.Contains(t, content, `"app":"delayd"`)

	assert.NotContains(t, console.String(), "job fired")
	assert.Contains(t, console.String(), "store unavailable")
}

func TestNew_DefaultLevels(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "default.log")
	var console bytes.Buffer

	logger := New(Options{Env: "prod", File: logFile, App: "delayd", Console: &console})
	logger.Debug("debug message")
	logger.Info("info message")
	require.NoError(t, Close(logger))

	assert.Contains(t, readLog(t, logFile), "debug message")
	assert.NotContains(t, console.String(), "debug message")
	assert.Contains(t, console.String(), "info message")
}

func TestNew_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger := New(Options{Env: "dev", ConsoleLevel: "info", App: "delayd", Console: &console})

	logger.Info("console only message")
	assert.NoError(t, Close(logger))
	assert.Contains(t, console.String(), "console only message")
}

func TestRedactingHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewRedactingHandler(slog.NewJSONHandler(&buf, nil), DefaultSensitiveKeys)
	log := slog.New(h)

	log.Info("connecting",
		slog.String("token", "123456:ABCDEF"),
		slog.String("url", "postgres://delayd:hunter2@db:5432/delayd"),
		slog.String("redis", "redis://:s3cret@cache:6379/0"),
		slog.String("callback", "http://example.com/hook"),
		slog.Group("store", slog.String("password", "pw")),
	)
	log.With("dsn", "postgres://x").Info("with attrs")

	out := buf.String()
	assert.NotContains(t, out, "123456:ABCDEF")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, `"password":"pw"`)
	assert.NotContains(t, out, "postgres://x")
	assert.Contains(t, out, "delayd:xxxxx@db:5432")
	assert.Contains(t, out, "http://example.com/hook")
	assert.Contains(t, out, redacted)
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestMultiHandler(t *testing.T) {
	var info, warn bytes.Buffer
	h1 := slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo})
	h2 := slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn})
	multi := NewMultiHandler(h1, h2)

	ctx := context.Background()
	assert.True(t, multi.Enabled(ctx, slog.LevelInfo))
	assert.False(t, multi.Enabled(ctx, slog.LevelDebug))

	require.NoError(t, multi.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "info only", 0)))
	assert.Contains(t, info.String(), "info only")
	assert.Empty(t, warn.String())

	slog.New(multi).With("component", "delay").WithGroup("g").Warn("both", "k", "v")
	assert.Contains(t, info.String(), "component=delay")
	assert.Contains(t, warn.String(), "g.k=v")
}

func TestMultiHandler_ContinuesAfterError(t *testing.T) {
	var buf bytes.Buffer
	bad := failingHandler{slog.NewTextHandler(&bytes.Buffer{}, nil)}
	multi := NewMultiHandler(bad, slog.NewTextHandler(&buf, nil))

	err := multi.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "still written", 0))
	assert.EqualError(t, err, "disk full")
	assert.Contains(t, buf.String(), "still written")
}
