package persist

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in a map. Nothing survives the process; it backs
// STORE_DRIVER=memory and tests.
type MemoryStore struct {
	mu   sync.Mutex
	seq  uint64
	recs map[string]memRecord
}

type memRecord struct {
	Record
	seq uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]memRecord)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.recs[rec.ID] = memRecord{Record: rec, seq: m.seq}
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	all := make([]memRecord, 0, len(m.recs))
	for _, r := range m.recs {
		all = append(all, r)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Time != all[j].Time {
			return all[i].Time < all[j].Time
		}
		return all[i].seq < all[j].seq
	})
	out := make([]Record, len(all))
	for i, r := range all {
		out[i] = r.Record
	}
	return out, nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(_ context.Context, keep map[string]struct{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id := range m.recs {
		if _, ok := keep[id]; !ok {
			delete(m.recs, id)
			n++
		}
	}
	return n, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }
