package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func Test_generateID_IsRandomUUID(t *testing.T) {
	got, err := generateID()
	if err != nil {
		t.Fatalf("generateID() returned error: %v", err)
	}
	id, err := uuid.Parse(got)
	if err != nil {
		t.Fatalf("generateID() returned %q, not a uuid: %v", got, err)
	}
	if id.Version() != 4 || id.Variant() != uuid.RFC4122 {
		t.Errorf("expected a random RFC 4122 uuid, got version %d variant %s", id.Version(), id.Variant())
	}
	if id.String() != got {
		t.Errorf("expected canonical lowercase form, got %q", got)
	}
}

func TestInsertImage_AssignsDistinctIDs(t *testing.T) {
	store := newTestDB(t)

	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		image := &Image{Name: "a.jpg", Camera: "cam1", Path: "/tmp/a.jpg", Datetime: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
		id, err := store.InsertImage(context.Background(), image)
		if err != nil {
			t.Fatalf("InsertImage failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("id %s assigned twice", id)
		}
		seen[id] = true
		if image.ID != id {
			t.Errorf("expected record to carry id %s, got %s", id, image.ID)
		}
	}
}
