package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"delayd/internal/delay"
	"delayd/internal/shared"
)

// Record is the stored form of a pending job.
type Record struct {
	ID      string          `json:"id"`
	Time    int64           `json:"time"`
	Message json.RawMessage `json:"message"`
}

// Store keeps records of pending jobs so they survive a restart.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	// List returns stored records, oldest time first.
	List(ctx context.Context) ([]Record, error)
	// Prune deletes every record whose id is not in keep and reports how many went.
	Prune(ctx context.Context, keep map[string]struct{}) (int, error)
	Close() error
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Encode converts a job into a record. Messages that are not already raw
// JSON are marshaled.
func Encode(job delay.Job) (Record, error) {
	var msg json.RawMessage
	switch m := job.Message().(type) {
	case json.RawMessage:
		msg = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return Record{}, shared.MarkKind(fmt.Errorf("encode job %s: %w", job.ID(), err), shared.KindValidation)
		}
		msg = b
	}
	return Record{ID: job.ID(), Time: job.Time(), Message: msg}, nil
}

// Spec rebuilds the delay.Spec the record was encoded from.
func (r Record) Spec() delay.Spec {
	spec := delay.Spec{Time: r.Time, ID: r.ID}
	if len(r.Message) > 0 {
		spec.Message = r.Message
	}
	return spec
}
