package delay

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// MaxTimerDelay is the longest delay a single timer is armed for. Later jobs
// are reached through waypoint timers of this length.
const MaxTimerDelay = 2147483647 * time.Millisecond

// Config holds scheduler dependencies. Zero values are replaced by defaults.
type Config struct {
	Logger *slog.Logger
	Clock  Clock
	// MaxTimerDelay overrides the waypoint threshold (mainly for tests).
	MaxTimerDelay time.Duration
}

// Scheduler keeps pending jobs ordered by time and fires each one when it
// becomes due. Exactly one timer is armed while jobs are pending.
type Scheduler struct {
	logger   *slog.Logger
	clock    Clock
	maxDelay time.Duration

	mu    sync.Mutex
	queue []Job
	timer Timer
	gen   uint64

	// events produced under mu, delivered by whichever goroutine drains first
	outbox   []event
	draining bool

	listeners listeners
}

// New creates a Scheduler with an empty queue.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	maxDelay := cfg.MaxTimerDelay
	if maxDelay <= 0 {
		maxDelay = MaxTimerDelay
	}
	s := &Scheduler{
		logger:   logger.With("component", "delay"),
		clock:    clock,
		maxDelay: maxDelay,
	}
	s.listeners.logger = s.logger
	return s
}

// Add builds a job from spec and queues it. Unless silent, an addJob event
// is emitted. A failed Add leaves the queue untouched.
func (s *Scheduler) Add(spec Spec, silent bool) (Job, error) {
	job, err := NewJob(spec)
	if err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	if spec.ID != "" && s.indexOf(spec.ID) >= 0 {
		s.mu.Unlock()
		return Job{}, ErrDuplicateID
	}

	idx := sort.Search(len(s.queue), func(i int) bool { return s.queue[i].time > job.time })
	s.queue = append(s.queue, Job{})
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = job

	if !silent {
		s.outbox = append(s.outbox, event{kind: EventAddJob, job: job})
	}
	if idx == 0 || s.timer == nil {
		s.arm()
	}
	s.mu.Unlock()

	s.drain()
	return job, nil
}

// Find returns the pending job with the given id.
func (s *Scheduler) Find(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.queue[i], true
	}
	return Job{}, false
}

// Remove drops the pending job with the given id. It reports false, and
// emits nothing, when no such job is pending.
func (s *Scheduler) Remove(id string, silent bool) (Job, bool) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return Job{}, false
	}

	job := s.queue[i]
	s.queue = append(s.queue[:i], s.queue[i+1:]...)

	if !silent {
		s.outbox = append(s.outbox, event{kind: EventRemoveJob, job: job})
	}
	if i == 0 || s.timer == nil {
		s.arm()
	}
	s.mu.Unlock()

	s.drain()
	return job, true
}

// Clear disarms the timer and empties the queue. Unless silent, one
// removeJob event per dropped job is emitted in queue order, followed by a
// clearJobs event. Timers armed before Clear never fire a job afterwards.
func (s *Scheduler) Clear(silent bool) {
	s.mu.Lock()
	s.disarm()
	old := s.queue
	s.queue = nil

	if !silent {
		for _, job := range old {
			s.outbox = append(s.outbox, event{kind: EventRemoveJob, job: job})
		}
		s.outbox = append(s.outbox, event{kind: EventClearJobs})
	}
	s.mu.Unlock()

	s.drain()
}

// HasPendingJobs reports whether any job is queued.
func (s *Scheduler) HasPendingJobs() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) != 0
}

// Len returns the number of pending jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Jobs returns a snapshot of the pending jobs in firing order.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.queue))
	copy(out, s.queue)
	return out
}

// Stop disarms the timer without touching the queue or emitting events.
// The next Add or Remove re-arms for the head of the queue, wherever the
// changed job sits in it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.disarm()
	s.mu.Unlock()
}

func (s *Scheduler) indexOf(id string) int {
	for i := range s.queue {
		if s.queue[i].id == id {
			return i
		}
	}
	return -1
}

// disarm stops the active timer and invalidates any callback already in flight.
// Must be called with mu held.
func (s *Scheduler) disarm() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// arm points the single timer at the head of the queue, or leaves it
// disarmed when the queue is empty. Must be called with mu held.
func (s *Scheduler) arm() {
	s.disarm()
	if len(s.queue) == 0 {
		return
	}

	head := s.queue[0]
	// Compare in milliseconds: the gap to a far-future job does not fit in a
	// time.Duration.
	var rem int64
	if now := s.clock.Now().UnixMilli(); head.time > now {
		rem = head.time - now
		if rem < 0 {
			rem = math.MaxInt64
		}
	}

	waypoint := rem > s.maxDelay.Milliseconds()
	dt := s.maxDelay
	if !waypoint {
		dt = time.Duration(rem) * time.Millisecond
	}

	gen := s.gen
	s.timer = s.clock.AfterFunc(dt, func() { s.fire(gen, waypoint) })
	s.logger.Debug("timer armed", "job_id", head.id, "delay", dt, "waypoint", waypoint)
}

func (s *Scheduler) fire(gen uint64, waypoint bool) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil

	if waypoint {
		s.logger.Debug("waypoint reached", "pending", len(s.queue))
	} else {
		now := s.clock.Now().UnixMilli()
		n := 0
		for n < len(s.queue) && s.queue[n].time <= now {
			s.outbox = append(s.outbox, event{kind: EventJob, job: s.queue[n]})
			n++
		}
		if n > 0 {
			s.queue = append(s.queue[:0:0], s.queue[n:]...)
		}
	}
	s.arm()
	s.mu.Unlock()

	s.drain()
}

// drain delivers queued events in the order they were produced. A listener
// calling back into the scheduler only enqueues; the active drain delivers.
func (s *Scheduler) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.outbox) > 0 {
		ev := s.outbox[0]
		s.outbox = s.outbox[1:]
		s.mu.Unlock()
		s.listeners.deliver(ev)
		s.mu.Lock()
	}
	s.outbox = nil
	s.draining = false
	s.mu.Unlock()
}
