package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-sharing/internal/ingest"
	"github.com/example/ride-sharing/internal/models"
)

// fakeArchiver implements RideArchiver for tests
type fakeArchiver struct {
	fail  int // number of times to fail before succeeding
	calls int
	last  *models.Ride
}

func (f *fakeArchiver) UpsertRide(ctx context.Context, r *models.Ride) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("pg fail")
	}
	f.last = r
	return nil
}

func TestArchiveWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeArchiver{fail: 2}
	ride := &models.Ride{ID: uuid.New(), Status: models.RideCompleted}
	start := time.Now()
	if err := archiveWithRetry(context.Background(), f, ride, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 || f.last != ride {
		t.Fatalf("expected 3 calls ending in a write, got %d", f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected doubling backoff between attempts")
	}
}

func TestArchiveWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeArchiver{fail: 5}
	ride := &models.Ride{ID: uuid.New()}
	if err := archiveWithRetry(context.Background(), f, ride, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

func TestArchiveWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeArchiver{fail: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := archiveWithRetry(ctx, f, &models.Ride{ID: uuid.New()}, 3, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodeRide(t *testing.T) {
	driver := uuid.New()
	in := models.Ride{ID: uuid.New(), DriverID: &driver, Fare: 350, Status: models.RideCompleted,
		Vehicle: models.Vehicle{Type: models.VehicleCar, LicensePlate: "DHA-1"}}
	b, err := json.Marshal(ingest.NewRideEvent(in, time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	out, err := decodeRide(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID || out.Fare != 350 || out.DriverID == nil || *out.DriverID != driver {
		t.Fatalf("unexpected ride: %+v", out)
	}
	if _, err := decodeRide([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}
