package storage

import (
	"testing"

	"github.com/google/uuid"

	"github.com/TomShtern/client-server-encrypted-backup-framework-clean-sub006/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustAddClient(t *testing.T, store *Store, name string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	if err := store.CreateOrUpdateClient(models.Client{ID: id, Name: name}); err != nil {
		t.Fatalf("add client %q: %v", name, err)
	}
	return id
}
