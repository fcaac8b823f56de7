// Package httpapi exposes a scheduler over HTTP with gin.
//
//	POST   /add/:timestamp  body is the message; 202 {"id","time"}
//	POST   /jobs            {"time","message","id"?}; 201 job
//	GET    /jobs            pending jobs in firing order
//	GET    /jobs/:id        200 job or 404
//	DELETE /jobs/:id        200 removed job or 404
//	DELETE /jobs            204, clears the queue
//	POST   /callbacks/echo  logs a callback body; 204
//	GET    /healthz
//	GET    /metrics
//
// POST /add/:timestamp ignores requests that carry From-Delayd: true so a
// callback pointed back at the daemon cannot schedule itself again.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"delayd/internal/delay"
)

// Queue is the part of *delay.Scheduler the API drives.
type Queue interface {
	Add(spec delay.Spec, silent bool) (delay.Job, error)
	Remove(id string, silent bool) (delay.Job, bool)
	Find(id string) (delay.Job, bool)
	Clear(silent bool)
	Jobs() []delay.Job
	Len() int
}

var _ Queue = (*delay.Scheduler)(nil)

// Config configures the router.
type Config struct {
	Queue  Queue
	Logger *slog.Logger
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// Requests, when set, counts requests by method, route and status.
	Requests *prometheus.CounterVec
	// Ready reports dependency health for GET /healthz.
	Ready func(ctx context.Context) error
	// MaxBodyBytes caps request bodies (default 1 MiB).
	MaxBodyBytes int64
}

type api struct {
	q       Queue
	log     *slog.Logger
	ready   func(ctx context.Context) error
	maxBody int64
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	a := &api{q: cfg.Queue, log: log.With("component", "http"), ready: cfg.Ready, maxBody: cfg.MaxBodyBytes}

	r := gin.New()
	r.Use(gin.Recovery(), a.logRequests(cfg.Requests))

	r.POST("/add/:timestamp", a.addAt)
	r.POST("/jobs", a.create)
	r.GET("/jobs", a.list)
	r.GET("/jobs/:id", a.get)
	r.DELETE("/jobs/:id", a.remove)
	r.DELETE("/jobs", a.clear)
	r.POST("/callbacks/echo", a.echo)
	r.GET("/healthz", a.health)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	return r
}

func (a *api) logRequests(counter *prometheus.CounterVec) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if counter != nil {
			counter.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		}
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		a.log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"dur", time.Since(start),
		)
	}
}
