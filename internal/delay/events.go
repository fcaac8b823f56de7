package delay

import (
	"log/slog"
	"sync"
)

// EventKind names a scheduler notification.
type EventKind int

const (
	// EventAddJob follows a non-silent Add.
	EventAddJob EventKind = iota
	// EventRemoveJob follows a non-silent Remove, and each job dropped by a non-silent Clear.
	EventRemoveJob
	// EventClearJobs follows a non-silent Clear.
	EventClearJobs
	// EventJob is emitted when a job becomes due.
	EventJob
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventAddJob:
		return "addJob"
	case EventRemoveJob:
		return "removeJob"
	case EventClearJobs:
		return "clearJobs"
	case EventJob:
		return "job"
	default:
		return "unknown"
	}
}

type event struct {
	kind EventKind
	job  Job
}

// JobListener receives the job carried by an event.
type JobListener func(Job)

type subscription struct {
	id    uint64
	kind  EventKind
	onJob JobListener
	on    func()
}

type listeners struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	logger *slog.Logger
}

// OnAddJob registers fn for addJob events. The returned func unsubscribes.
func (s *Scheduler) OnAddJob(fn JobListener) func() {
	return s.listeners.add(subscription{kind: EventAddJob, onJob: fn})
}

// OnRemoveJob registers fn for removeJob events.
func (s *Scheduler) OnRemoveJob(fn JobListener) func() {
	return s.listeners.add(subscription{kind: EventRemoveJob, onJob: fn})
}

// OnClearJobs registers fn for clearJobs events.
func (s *Scheduler) OnClearJobs(fn func()) func() {
	return s.listeners.add(subscription{kind: EventClearJobs, on: fn})
}

// OnJob registers fn for job events, i.e. jobs that became due.
func (s *Scheduler) OnJob(fn JobListener) func() {
	return s.listeners.add(subscription{kind: EventJob, onJob: fn})
}

func (l *listeners) add(sub subscription) func() {
	l.mu.Lock()
	l.nextID++
	sub.id = l.nextID
	l.subs = append(l.subs, sub)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(sub.id) })
	}
}

func (l *listeners) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, sub := range l.subs {
		if sub.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

// deliver calls every listener for ev in registration order.
func (l *listeners) deliver(ev event) {
	l.mu.RLock()
	subs := l.subs
	l.mu.RUnlock()

	for _, sub := range subs {
		if sub.kind != ev.kind {
			continue
		}
		l.call(sub, ev)
	}
}

func (l *listeners) call(sub subscription, ev event) {
	defer func() {
		if r := recover(); r != nil && l.logger != nil {
			l.logger.Error("listener panicked", "event", ev.kind.String(), "job_id", ev.job.id, "panic", r)
		}
	}()
	if sub.onJob != nil {
		sub.onJob(ev.job)
		return
	}
	if sub.on != nil {
		sub.on()
	}
}
