package testsupport

import (
	"context"
	"testing"

	"radiodigest/internal/config"
	"radiodigest/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewBlock registers a scheduled block for the seeded program.
func NewBlock(t testing.TB, st *store.Store, date, code string) *store.Block {
	t.Helper()

	block, err := st.CreateBlock(context.Background(), store.Unit{Program: TestProgram, Date: date}, code)
	if err != nil {
		t.Fatalf("store.CreateBlock: %v", err)
	}
	return block
}

// Advance moves a block through the given statuses in order, failing the test on
// the first rejected step.
func Advance(t testing.TB, st *store.Store, block *store.Block, statuses ...store.BlockStatus) {
	t.Helper()

	current := block.Status
	for _, next := range statuses {
		ok, err := st.TransitionBlock(context.Background(), block.ID, current, next, store.BlockUpdate{}, nil)
		if err != nil {
			t.Fatalf("transition %s->%s: %v", current, next, err)
		}
		if !ok {
			t.Fatalf("transition %s->%s rejected", current, next)
		}
		current = next
	}
	block.Status = current
}
