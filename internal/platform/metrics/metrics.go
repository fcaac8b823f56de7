// Package metrics exposes scheduler and adapter counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"delayd/internal/delay"
)

// Metrics holds every collector of the daemon on its own registry.
type Metrics struct {
	reg *prometheus.Registry

	JobsAdded   prometheus.Counter
	JobsRemoved prometheus.Counter
	JobsFired   prometheus.Counter
	Clears      prometheus.Counter
	Pending     prometheus.Gauge
	FireLag     prometheus.Histogram
	Callbacks   *prometheus.CounterVec
	Published   *prometheus.CounterVec
	Maintenance *prometheus.CounterVec
	HTTP        *prometheus.CounterVec
}

// New registers the collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		JobsAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "delayd_jobs_added_total",
			Help: "Jobs added with events enabled.",
		}),
		JobsRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "delayd_jobs_removed_total",
			Help: "Jobs removed before firing, including clears.",
		}),
		JobsFired: f.NewCounter(prometheus.CounterOpts{
			Name: "delayd_jobs_fired_total",
			Help: "Jobs that reached their time.",
		}),
		Clears: f.NewCounter(prometheus.CounterOpts{
			Name: "delayd_jobs_cleared_total",
			Help: "Non-silent queue clears.",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "delayd_jobs_pending",
			Help: "Jobs currently queued.",
		}),
		FireLag: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "delayd_fire_lag_seconds",
			Help:    "Delay between a job's time and its job event.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "delayd_callbacks_total",
			Help: "HTTP callbacks by result.",
		}, []string{"result"}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "delayd_amqp_published_total",
			Help: "Fired jobs published to AMQP by result.",
		}, []string{"result"}),
		Maintenance: f.NewCounterVec(prometheus.CounterOpts{
			Name: "delayd_maintenance_runs_total",
			Help: "Maintenance task runs by task and result.",
		}, []string{"task", "result"}),
		HTTP: f.NewCounterVec(prometheus.CounterOpts{
			Name: "delayd_http_requests_total",
			Help: "HTTP API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Bind counts scheduler events. now reads the clock used for fire lag.
// Pending is resynced from the queue length on every event; silent changes
// emit none and show up at the next event or reconcile run. The returned
// func unsubscribes.
func (m *Metrics) Bind(sched *delay.Scheduler, now func() time.Time) func() {
	if now == nil {
		now = time.Now
	}
	sync := func() { m.Pending.Set(float64(sched.Len())) }
	sync()

	unsub := []func(){
		sched.OnAddJob(func(delay.Job) {
			m.JobsAdded.Inc()
			sync()
		}),
		sched.OnRemoveJob(func(delay.Job) {
			m.JobsRemoved.Inc()
			sync()
		}),
		sched.OnClearJobs(func() {
			m.Clears.Inc()
			sync()
		}),
		sched.OnJob(func(j delay.Job) {
			m.JobsFired.Inc()
			if lag := now().Sub(j.At()); lag > 0 {
				m.FireLag.Observe(lag.Seconds())
			} else {
				m.FireLag.Observe(0)
			}
			sync()
		}),
	}
	return func() {
		for _, fn := range unsub {
			fn()
		}
	}
}
