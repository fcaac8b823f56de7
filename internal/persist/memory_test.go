package persist_test

import (
	"testing"

	"delayd/internal/persist"
	"delayd/internal/persist/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) persist.Store { return persist.NewMemoryStore() })
}
