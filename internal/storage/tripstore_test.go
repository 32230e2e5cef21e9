package storage

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/example/ride-sharing/internal/models"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	m := NewMemoryStore()
	a := &models.Ride{StartLocation: "Gulshan", EndLocation: "Banani"}
	b := &models.Ride{StartLocation: "Mirpur", EndLocation: "Uttara"}
	if err := m.SaveRide(a); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveRide(b); err != nil {
		t.Fatal(err)
	}
	if a.ID == uuid.Nil || b.ID == uuid.Nil || a.ID == b.ID {
		t.Fatalf("expected distinct assigned IDs, got %s %s", a.ID, b.ID)
	}
	if err := m.SaveRide(a); err == nil {
		t.Fatal("saving the same ride twice should fail")
	}
	list := m.List()
	if len(list) != 2 || list[0] != a || list[1] != b {
		t.Fatalf("unexpected order: %v", list)
	}

	a.Status = models.RideCompleted
	if err := m.UpdateRide(a); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Get(a.ID); got.Status != models.RideCompleted {
		t.Fatalf("update not visible: %s", got.Status)
	}

	if err := m.DeleteRide(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get(a.ID); ok {
		t.Fatal("deleted ride still present")
	}
	if err := m.DeleteRide(a.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.UpdateRide(&models.Ride{ID: uuid.New()}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if list := m.List(); len(list) != 1 || list[0] != b {
		t.Fatalf("unexpected list after delete: %v", list)
	}
}
