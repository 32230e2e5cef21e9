package marketplace

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-sharing/internal/fare"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/storage"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	src, _ := newTestRegistry(t, 10)
	rider := mustRider(t, src, "Rahim", 1000)
	other := mustRider(t, src, "Salma", 1000)
	driver := mustDriver(t, src, "Karim", models.VehicleBike)
	mustDriver(t, src, "Jamal", models.VehicleBike)

	done, err := src.RequestRide(context.Background(), models.RideRequest{RiderID: rider.ID, Destination: "Dhanmondi", VehicleType: "bike"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.CompleteRide(context.Background(), done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := src.RateDriver(done.ID, 4); err != nil {
		t.Fatal(err)
	}
	cancelled, err := src.RequestRide(context.Background(), models.RideRequest{RiderID: rider.ID, Destination: "Mirpur", VehicleType: "bike"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.CancelRide(context.Background(), cancelled.ID, models.ByDriver); err != nil {
		t.Fatal(err)
	}
	open, err := src.RequestRide(context.Background(), models.RideRequest{RiderID: other.ID, Destination: "Uttara", VehicleType: "bike"})
	if err != nil {
		t.Fatal(err)
	}

	snap := src.Snapshot()
	if snap.Company.TotalRides != 1 || snap.Company.Name != "QuickRide" {
		t.Fatalf("company record: %+v", snap.Company)
	}
	if len(snap.Rides) != 2 {
		t.Fatalf("cancelled rides must be skipped, got %d rides", len(snap.Rides))
	}
	if snap.Rides[0].RiderName != "Rahim" || snap.Rides[0].DriverName == "" {
		t.Fatalf("ride names not denormalized: %+v", snap.Rides[0])
	}

	dst, _ := newTestRegistry(t, 10)
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if dst.Name() != "QuickRide" || dst.Stats().CompletedRides != 1 {
		t.Fatalf("restored stats: %+v", dst.Stats())
	}

	r, err := dst.Rider(rider.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Wallet != 750 || len(r.RideHistory) != 1 || r.RideHistory[0] != done.ID || r.CurrentRide != nil {
		t.Fatalf("restored rider: %+v", r)
	}
	o, _ := dst.Rider(other.ID)
	if o.CurrentRide == nil || *o.CurrentRide != open.ID {
		t.Fatalf("in-progress ride not re-linked: %+v", o)
	}

	d, _ := dst.Driver(driver.ID)
	if d.AverageRating != 4 || d.TotalRatings != 1 || d.TotalRides != 1 || len(d.RideHistory) != 1 {
		t.Fatalf("restored driver: %+v", d)
	}
	if d.Vehicle == nil || d.Vehicle.Type != models.VehicleBike || d.Vehicle.RatePerKm != 20 {
		t.Fatalf("restored vehicle: %+v", d.Vehicle)
	}
	busy, _ := dst.Driver(*open.DriverID)
	if busy.IsAvailable {
		t.Fatal("driver on an open ride must stay unavailable")
	}

	// the restored ride keeps its rating guard
	if _, err := dst.RateDriver(done.ID, 5); !errors.Is(err, models.ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}
	if _, err := dst.CompleteRide(context.Background(), open.ID); err != nil {
		t.Fatalf("complete restored ride: %v", err)
	}
	if dst.Stats().CompletedRides != 2 {
		t.Fatalf("counter after restore: %d", dst.Stats().CompletedRides)
	}
}

func TestRestoreRejectsNonEmptyRegistry(t *testing.T) {
	r, _ := newTestRegistry(t, 5)
	mustRider(t, r, "Rahim", 0)
	if err := r.Restore(Snapshot{}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRestoreEmptySnapshotKeepsName(t *testing.T) {
	r, _ := newTestRegistry(t, 5)
	if err := r.Restore(Snapshot{}); err != nil {
		t.Fatal(err)
	}
	if r.Name() != "QuickRide" {
		t.Fatalf("name changed to %q", r.Name())
	}
	if err := r.Restore(Snapshot{Company: CompanyRecord{TotalRides: -1}}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

// failingStore refuses the nth SaveRide.
type failingStore struct {
	*storage.MemoryStore
	failAt int
	saves  int
}

func (f *failingStore) SaveRide(r *models.Ride) error {
	f.saves++
	if f.saves == f.failAt {
		return errors.New("arena full")
	}
	return f.MemoryStore.SaveRide(r)
}

func TestRestoreFailureLeavesRegistryEmpty(t *testing.T) {
	src, _ := newTestRegistry(t, 10)
	rider := mustRider(t, src, "Rahim", 1000)
	mustDriver(t, src, "Karim", models.VehicleBike)
	mustDriver(t, src, "Jamal", models.VehicleBike)
	for _, dest := range []string{"Dhanmondi", "Mirpur"} {
		ride, err := src.RequestRide(context.Background(), models.RideRequest{RiderID: rider.ID, Destination: dest, VehicleType: "bike"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := src.CompleteRide(context.Background(), ride.ID); err != nil {
			t.Fatal(err)
		}
	}
	good := src.Snapshot()

	bad := good
	bad.Rides = append([]RideRecord{}, good.Rides...)
	bad.Rides[1].ID = bad.Rides[0].ID

	dst, _ := newTestRegistry(t, 10)
	if err := dst.Restore(bad); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for duplicate ride, got %v", err)
	}
	if n := len(dst.rides.List()); n != 0 {
		t.Fatalf("arena holds %d rides after failed restore", n)
	}
	if err := dst.Restore(good); err != nil {
		t.Fatalf("retry after failed restore: %v", err)
	}
	if got, _ := dst.Rider(rider.ID); len(got.RideHistory) != 2 {
		t.Fatalf("restored history: %+v", got.RideHistory)
	}

	fs := &failingStore{MemoryStore: storage.NewMemoryStore(), failAt: 2}
	flaky := New("QuickRide", fs, fare.FixedDistance(10))
	if err := flaky.Restore(good); err == nil {
		t.Fatal("expected arena error")
	}
	if n := len(fs.List()); n != 0 {
		t.Fatalf("partial restore left %d rides in the arena", n)
	}
	if len(flaky.Riders()) != 0 || flaky.Stats().CompletedRides != 0 {
		t.Fatalf("registry changed by failed restore: %+v", flaky.Stats())
	}
	if err := flaky.Restore(good); err != nil {
		t.Fatalf("retry after arena error: %v", err)
	}
}
