// Package storetest holds behaviour every persist.Store must share.
package storetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delayd/internal/persist"
)

// Run exercises a fresh, empty store returned by open.
func Run(t *testing.T, open func(t *testing.T) persist.Store) {
	t.Run("SaveListDelete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, persist.Record{ID: "b", Time: 200, Message: json.RawMessage(`"later"`)}))
		require.NoError(t, s.Save(ctx, persist.Record{ID: "a", Time: 100, Message: json.RawMessage(`{"k":1}`)}))
		require.NoError(t, s.Save(ctx, persist.Record{ID: "c", Time: 200, Message: json.RawMessage(`[1,2]`)}))

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, []string{"a", "b", "c"}, ids(recs))
		assert.Equal(t, int64(100), recs[0].Time)
		assert.JSONEq(t, `{"k":1}`, string(recs[0].Message))

		require.NoError(t, s.Delete(ctx, "b"))
		require.NoError(t, s.Delete(ctx, "missing"))
		recs, err = s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids(recs))
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, persist.Record{ID: "a", Time: 1, Message: json.RawMessage(`1`)}))
		require.NoError(t, s.Save(ctx, persist.Record{ID: "a", Time: 2, Message: json.RawMessage(`2`)}))

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, int64(2), recs[0].Time)
		assert.JSONEq(t, `2`, string(recs[0].Message))
	})

	t.Run("Prune", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i, id := range []string{"a", "b", "c", "d"} {
			require.NoError(t, s.Save(ctx, persist.Record{ID: id, Time: int64(i), Message: json.RawMessage(`null`)}))
		}
		n, err := s.Prune(ctx, map[string]struct{}{"b": {}, "d": {}, "zzz": {}})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		recs, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "d"}, ids(recs))
	})

	t.Run("Empty", func(t *testing.T) {
		s := open(t)
		recs, err := s.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("Ping", func(t *testing.T) {
		p, ok := open(t).(persist.Pinger)
		if !ok {
			t.Skip("store does not implement Pinger")
		}
		assert.NoError(t, p.Ping(context.Background()))
	})
}

func ids(recs []persist.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
