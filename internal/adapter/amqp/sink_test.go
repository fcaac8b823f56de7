package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delayd/internal/delay"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakePublisher struct {
	mu    sync.Mutex
	out   []published
	fail  bool
	block chan struct{}
}

func (f *fakePublisher) Publish(_ context.Context, exchange, key string, msg amqp.Publishing) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("channel closed")
	}
	f.out = append(f.out, published{exchange, key, msg})
	return nil
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.out...)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newResults() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_published_total"}, []string{"result"})
}

func TestSink_PublishesFiredJobsInOrder(t *testing.T) {
	epoch := time.UnixMilli(1_700_000_000_000)
	clock := delay.NewFakeClock(epoch)
	sched := delay.New(delay.Config{Logger: quiet(), Clock: clock})

	pub := &fakePublisher{}
	results := newResults()
	sink := NewSink(pub, SinkConfig{Exchange: "delayd.events", Logger: quiet(), Results: results, Now: clock.Now})
	unbind := sink.Bind(sched)

	a, err := sched.Add(delay.Spec{Time: epoch.Add(time.Second).UnixMilli(), Message: map[string]any{"n": 1}}, false)
	require.NoError(t, err)
	b, err := sched.Add(delay.Spec{Time: epoch.Add(2 * time.Second).UnixMilli(), Message: "two"}, false)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	unbind()
	sink.Close()

	got := pub.all()
	require.Len(t, got, 2)
	assert.Equal(t, "delayd.events", got[0].exchange)
	assert.Equal(t, RoutingKeyJobDue, got[0].key)
	assert.Equal(t, a.ID(), got[0].msg.MessageId)
	assert.Equal(t, b.ID(), got[1].msg.MessageId)
	assert.Equal(t, "application/json", got[0].msg.ContentType)
	assert.Equal(t, amqp.Persistent, got[0].msg.DeliveryMode)

	var env struct {
		ID      string          `json:"id"`
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(got[0].msg.Body, &env))
	assert.Equal(t, a.ID(), env.ID)
	assert.Equal(t, TypeJobDue, env.Type)
	assert.JSONEq(t, `{"id":"`+a.ID()+`","time":`+jsonInt(a.Time())+`,"message":{"n":1}}`, string(env.Payload))
	assert.Equal(t, 2.0, testutil.ToFloat64(results.WithLabelValues("ok")))
}

func TestSink_CountsFailures(t *testing.T) {
	pub := &fakePublisher{fail: true}
	results := newResults()
	sink := NewSink(pub, SinkConfig{Logger: quiet(), Results: results})

	job, err := delay.NewJob(delay.Spec{Time: 1, Message: "x"})
	require.NoError(t, err)
	sink.Enqueue(job)
	sink.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(results.WithLabelValues("failed")))
}

func TestSink_DropsWhenBufferFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	results := newResults()
	sink := NewSink(pub, SinkConfig{Logger: quiet(), Results: results, Buffer: 1})

	job, err := delay.NewJob(delay.Spec{Time: 1, Message: "x"})
	require.NoError(t, err)

	sink.Enqueue(job)
	require.Eventually(t, func() bool { return len(sink.queue) == 0 }, time.Second, time.Millisecond)
	sink.Enqueue(job) // buffered
	sink.Enqueue(job) // dropped

	assert.Equal(t, 1.0, testutil.ToFloat64(results.WithLabelValues("dropped")))
	close(pub.block)
	sink.Close()
	assert.Len(t, pub.all(), 2)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
