package testsupport

import (
	"context"
	"testing"

	"strato/internal/config"
	"strato/internal/store"
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

// NewVolume creates a Requested volume record for tests.
func NewVolume(t testing.TB, st *store.Store, sizeGiB int) *store.VolumeRecord {
	t.Helper()

	rec, err := st.NewVolume(context.Background(), sizeGiB, "gp3", "zone-a", "")
	if err != nil {
		t.Fatalf("store.NewVolume: %v", err)
	}
	return rec
}
