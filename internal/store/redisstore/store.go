// Package redisstore keeps pending jobs in a Redis hash, one field per job id.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"delayd/internal/persist"
	"delayd/internal/shared"
	"delayd/pkg/retry"
)

// Config selects the server and the hash holding the queue.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Store implements persist.Store on Redis.
type Store struct {
	client *redis.Client
	key    string
	seqKey string
}

var _ persist.Store = (*Store)(nil)

// entry is the hash value. Seq keeps FIFO order among equal times.
type entry struct {
	persist.Record
	Seq int64 `json:"seq"`
}

// Open connects to Redis, retrying while the server is unreachable.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	rc := retry.Config{
		MaxAttempts:    6,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		JitterStrategy: retry.JitterEqual,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.Warn("redis not ready", "addr", cfg.Addr, "attempt", attempt, "retry_in", delay, "error", err)
		},
	}
	err := retry.DoWithRetryable(ctx, rc, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}, retry.AnyError)
	if err != nil {
		_ = client.Close()
		return nil, shared.MarkKind(fmt.Errorf("connect redis %s: %w", cfg.Addr, err), shared.KindDependencyFailure)
	}
	return New(client, cfg.Key), nil
}

// New wraps client. Close closes it.
func New(client *redis.Client, key string) *Store {
	if key == "" {
		key = "delayd-queue"
	}
	return &Store{client: client, key: key, seqKey: key + ":seq"}
}

// Save implements persist.Store.
func (s *Store) Save(ctx context.Context, rec persist.Record) error {
	seq, err := s.client.Incr(ctx, s.seqKey).Result()
	if err != nil {
		return shared.Wrapf(err, "save job %s", rec.ID)
	}
	b, err := json.Marshal(entry{Record: rec, Seq: seq})
	if err != nil {
		return shared.MarkKind(fmt.Errorf("encode job %s: %w", rec.ID, err), shared.KindValidation)
	}
	if err := s.client.HSet(ctx, s.key, rec.ID, b).Err(); err != nil {
		return shared.Wrapf(err, "save job %s", rec.ID)
	}
	return nil
}

// Delete implements persist.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, s.key, id).Err(); err != nil {
		return shared.Wrapf(err, "delete job %s", id)
	}
	return nil
}

// List implements persist.Store. Values that fail to decode are skipped;
// the next Prune removes them.
func (s *Store) List(ctx context.Context) ([]persist.Record, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, shared.Wrap(err, "list jobs")
	}

	entries := make([]entry, 0, len(all))
	for id, raw := range all {
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		e.ID = id
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Time != entries[j].Time {
			return entries[i].Time < entries[j].Time
		}
		return entries[i].Seq < entries[j].Seq
	})

	out := make([]persist.Record, len(entries))
	for i, e := range entries {
		out[i] = e.Record
	}
	return out, nil
}

// Prune implements persist.Store.
func (s *Store) Prune(ctx context.Context, keep map[string]struct{}) (int, error) {
	ids, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return 0, shared.Wrap(err, "prune jobs")
	}
	var stale []string
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := s.client.HDel(ctx, s.key, stale...).Result()
	if err != nil {
		return 0, shared.Wrap(err, "prune jobs")
	}
	return int(n), nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
