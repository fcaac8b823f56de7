package delay

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Spec describes a job to schedule.
//
// Time accepts a time.Time, any Go integer or float holding epoch
// milliseconds, a json.Number or a numeric string. Message is mandatory:
// nil means "absent", every other value (including 0, false and "") is kept.
type Spec struct {
	Time    any    `json:"time"`
	Message any    `json:"message"`
	ID      string `json:"id,omitempty"`
}

// Job is an immutable scheduled unit of work.
type Job struct {
	id      string
	time    int64
	message any
}

// NewJob validates spec and builds a Job from it.
func NewJob(spec Spec) (Job, error) {
	if spec.Message == nil {
		return Job{}, ErrMissingMessage
	}
	if raw, ok := spec.Message.(json.RawMessage); ok && len(raw) == 0 {
		return Job{}, ErrMissingMessage
	}

	ms, err := normalizeTime(spec.Time)
	if err != nil {
		return Job{}, err
	}

	id := spec.ID
	if id == "" {
		id = NewID()
	}

	return Job{id: id, time: ms, message: spec.Message}, nil
}

// NewID returns a fresh random job identifier.
func NewID() string {
	return uuid.NewString()
}

// ID returns the job identifier.
func (j Job) ID() string { return j.id }

// Time returns the scheduled time in epoch milliseconds.
func (j Job) Time() int64 { return j.time }

// At returns the scheduled time.
func (j Job) At() time.Time { return time.UnixMilli(j.time) }

// Message returns the payload exactly as it was supplied.
func (j Job) Message() any { return j.message }

// IsZero reports whether j is the zero Job.
func (j Job) IsZero() bool { return j.id == "" }

// Spec returns a spec that rebuilds j with the same identifier.
func (j Job) Spec() Spec {
	return Spec{Time: j.time, Message: j.message, ID: j.id}
}

// MarshalJSON encodes the job as {"id","time","message"}.
func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID      string `json:"id"`
		Time    int64  `json:"time"`
		Message any    `json:"message"`
	}{j.id, j.time, j.message})
}

// ParseSpec decodes a stored or transmitted job document. The message is
// kept as raw JSON so it round-trips unchanged.
func ParseSpec(data []byte) (Spec, error) {
	var doc struct {
		ID      string          `json:"id"`
		Time    json.Number     `json:"time"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Spec{}, fmt.Errorf("decode job: %w", err)
	}
	spec := Spec{Time: doc.Time, ID: doc.ID}
	if len(doc.Message) > 0 {
		spec.Message = doc.Message
	}
	return spec, nil
}

// FromList turns specs (or already built Jobs) into Jobs sorted by time.
// Equal times keep their input order.
func FromList(items ...any) ([]Job, error) {
	jobs := make([]Job, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case Job:
			jobs = append(jobs, v)
		case Spec:
			job, err := NewJob(v)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			jobs = append(jobs, job)
		default:
			return nil, fmt.Errorf("item %d: %w: unsupported type %T", i, ErrInvalidSpec, item)
		}
	}
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].time < jobs[b].time })
	return jobs, nil
}

func normalizeTime(v any) (int64, error) {
	var ms int64
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return 0, ErrInvalidTime
		}
		ms = t.UnixMilli()
	case *time.Time:
		if t == nil || t.IsZero() {
			return 0, ErrInvalidTime
		}
		ms = t.UnixMilli()
	case int:
		ms = int64(t)
	case int32:
		ms = int64(t)
	case int64:
		ms = t
	case uint32:
		ms = int64(t)
	case uint64:
		if t > math.MaxInt64 {
			return 0, ErrInvalidTime
		}
		ms = int64(t)
	case float32:
		return floatMillis(float64(t))
	case float64:
		return floatMillis(t)
	case json.Number:
		return parseMillis(string(t))
	case string:
		return parseMillis(t)
	default:
		return 0, ErrInvalidTime
	}
	if ms == 0 {
		return 0, ErrInvalidTime
	}
	return ms, nil
}

func parseMillis(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n == 0 {
			return 0, ErrInvalidTime
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidTime
	}
	return floatMillis(f)
}

func floatMillis(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0, ErrInvalidTime
	}
	ms := int64(f)
	if ms == 0 {
		return 0, ErrInvalidTime
	}
	return ms, nil
}
