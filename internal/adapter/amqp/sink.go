package amqp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"delayd/internal/delay"
)

const (
	// TypeJobDue is the envelope type of a fired job.
	TypeJobDue = "job.due"
	// RoutingKeyJobDue is the routing key fired jobs are published with.
	RoutingKeyJobDue = "job.due"
)

// Publisher sends one message. *Connection satisfies it.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error
}

// Envelope is the body of every published message.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   delay.Job `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// SinkConfig configures a Sink.
type SinkConfig struct {
	Exchange string
	Logger   *slog.Logger
	// Buffer is the number of fired jobs waiting to be published (default 256).
	// Jobs beyond it are dropped.
	Buffer int
	// Timeout bounds one publish (default 5s).
	Timeout time.Duration
	// Results, when set, is incremented with "ok", "failed" or "dropped".
	Results *prometheus.CounterVec
	Now     func() time.Time
}

// Sink publishes fired jobs from a single goroutine, in firing order.
type Sink struct {
	pub     Publisher
	cfg     SinkConfig
	log     *slog.Logger
	queue   chan delay.Job
	stopped chan struct{}
}

// NewSink starts the publishing goroutine. Close stops it.
func NewSink(pub Publisher, cfg SinkConfig) *Sink {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Sink{
		pub:     pub,
		cfg:     cfg,
		log:     cfg.Logger.With("component", "amqp", "exchange", cfg.Exchange),
		queue:   make(chan delay.Job, cfg.Buffer),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

// Bind subscribes to job events and returns the unsubscribe func.
func (s *Sink) Bind(sched *delay.Scheduler) func() {
	return sched.OnJob(s.Enqueue)
}

// Enqueue queues job for publishing without blocking.
func (s *Sink) Enqueue(job delay.Job) {
	select {
	case s.queue <- job:
	default:
		s.log.Warn("publish buffer full, dropping job", "job_id", job.ID())
		s.record("dropped")
	}
}

// Close publishes what is already queued and stops. Call it after the
// scheduler stops emitting.
func (s *Sink) Close() {
	close(s.queue)
	<-s.stopped
}

func (s *Sink) run() {
	defer close(s.stopped)
	for job := range s.queue {
		if err := s.publish(job); err != nil {
			s.log.Error("publish job", "job_id", job.ID(), "error", err)
			s.record("failed")
			continue
		}
		s.record("ok")
	}
}

func (s *Sink) publish(job delay.Job) error {
	env := Envelope{ID: job.ID(), Type: TypeJobDue, Payload: job, Timestamp: s.cfg.Now().UTC()}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	return s.pub.Publish(ctx, s.cfg.Exchange, RoutingKeyJobDue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Type,
		Timestamp:    env.Timestamp,
		Body:         body,
	})
}

func (s *Sink) record(result string) {
	if s.cfg.Results != nil {
		s.cfg.Results.WithLabelValues(result).Inc()
	}
}
