package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type temporaryError struct{ temporary bool }

func (e temporaryError) Error() string   { return "temporary" }
func (e temporaryError) Temporary() bool { return e.temporary }

// instant returns a config that never sleeps.
func instant(attempts int) Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialDelay = time.Millisecond
	cfg.After = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return cfg
}

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "closed", err: net.ErrClosed, want: true},
		{name: "conn refused", err: &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, want: true},
		{name: "temporary", err: temporaryError{temporary: true}, want: true},
		{name: "not temporary", err: temporaryError{temporary: false}, want: false},
		{name: "plain", err: errors.New("bad request"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryable(tt.err))
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	require.NoError(t, cfg.Normalize())

	assert.Equal(t, 100*time.Millisecond, cfg.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.calculateDelay(2))
	assert.Equal(t, 800*time.Millisecond, cfg.calculateDelay(4))
	assert.Equal(t, time.Second, cfg.calculateDelay(10))
}

func TestApplyJitter(t *testing.T) {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Rand:         rand.New(rand.NewSource(1)),
	}
	require.NoError(t, cfg.Normalize())

	cfg.JitterStrategy = JitterDecorrelated
	for i := 0; i < 50; i++ {
		d := cfg.applyJitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}

	cfg.JitterStrategy = JitterNone
	assert.Equal(t, 100*time.Millisecond, cfg.applyJitter(100*time.Millisecond))
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), instant(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return io.EOF
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryable(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), instant(5), func(context.Context) error {
		calls++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	err := DoWithRetryable(context.Background(), instant(5), func(context.Context) error {
		calls++
		return Permanent(io.EOF)
	}, func(error) bool { return true })

	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(Permanent(io.EOF)))
	assert.Nil(t, Permanent(nil))
}

func TestDo_MaxAttempts(t *testing.T) {
	calls := 0
	var retried []int
	cfg := instant(3)
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return io.EOF
	})

	var exceeded *RetriesExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 3, exceeded.Attempts)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_NextDelayStops(t *testing.T) {
	cfg := instant(5)
	cfg.NextDelay = func(attempt int, _ error) (time.Duration, bool) { return 0, attempt < 2 }

	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return io.EOF
	})
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultConfig()
	cfg.MaxAttempts = 5
	cfg.After = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}

	err := Do(ctx, cfg, func(context.Context) error { return io.EOF })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_MaxElapsedTime(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := instant(10)
	cfg.InitialDelay = time.Second
	cfg.JitterStrategy = JitterNone
	cfg.MaxElapsedTime = 2 * time.Second
	cfg.Now = func() time.Time { return now }
	cfg.OnRetry = func(_ int, _ error, d time.Duration) { now = now.Add(d) }

	err := Do(context.Background(), cfg, func(context.Context) error { return io.EOF })

	var exceeded *RetriesExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "max elapsed time exceeded", exceeded.Reason)
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []Config{
		{MaxAttempts: 0, InitialDelay: time.Second},
		{MaxAttempts: 1, InitialDelay: 0},
		{MaxAttempts: 1, InitialDelay: time.Second, MinDelay: 2 * time.Second, MaxDelay: time.Second},
		{MaxAttempts: 1, InitialDelay: time.Second, Multiplier: 0.5},
		{MaxAttempts: 1, InitialDelay: time.Second, MaxElapsedTime: -1},
	}
	for _, cfg := range tests {
		assert.Error(t, cfg.Normalize())
	}
}

func TestAnyError(t *testing.T) {
	assert.True(t, AnyError(errors.New("auth failed")))
	assert.True(t, AnyError(context.DeadlineExceeded))
	assert.False(t, AnyError(context.Canceled))
	assert.False(t, AnyError(nil))
}
