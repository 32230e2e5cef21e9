package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-sharing/internal/dispatch"
	"github.com/example/ride-sharing/internal/fare"
	"github.com/example/ride-sharing/internal/logging"
	"github.com/example/ride-sharing/internal/marketplace"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/persistence"
	"github.com/example/ride-sharing/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *persistence.FileStore) {
	t.Helper()
	now := time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC)
	reg := marketplace.New("QuickRide", storage.NewMemoryStore(), fare.FixedDistance(10),
		marketplace.WithClock(func() time.Time { return now }))
	fs := persistence.NewFileStore(t.TempDir())
	return NewServer(reg, dispatch.NewWSRegistry(nil), fs, nil), fs
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func registerRider(t *testing.T, s *Server, name string, amount float64) models.Rider {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/riders", map[string]any{
		"name": name, "email": name + "@x.test", "nid": "N-" + name, "current_location": "Gulshan", "initial_amount": amount,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register rider: %d %s", rec.Code, rec.Body.String())
	}
	var r models.Rider
	decodeInto(t, rec, &r)
	return r
}

func registerDriver(t *testing.T, s *Server, name, vehicle string) models.Driver {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/drivers", map[string]any{
		"name": name, "email": name + "@x.test", "nid": "N-" + name,
		"vehicle": map[string]any{"type": vehicle, "license_plate": "DHA-" + name},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register driver: %d %s", rec.Code, rec.Body.String())
	}
	var d models.Driver
	decodeInto(t, rec, &d)
	return d
}

func TestRideFlowOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)
	rider := registerRider(t, s, "Rahim", 1000)
	driver := registerDriver(t, s, "Karim", "BIKE")
	if driver.Vehicle == nil || driver.Vehicle.RatePerKm != 20 {
		t.Fatalf("vehicle defaults not applied: %+v", driver.Vehicle)
	}

	rec := do(t, s, http.MethodPost, "/api/v1/rides/request", map[string]any{
		"rider_id": rider.ID, "destination": "Banani", "vehicle_type": "bike",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request: %d %s", rec.Code, rec.Body.String())
	}
	var ride models.Ride
	decodeInto(t, rec, &ride)
	if ride.Fare != 250 || ride.Status != models.RideInProgress || ride.EstimatedMinutes != 10 {
		t.Fatalf("unexpected ride: %+v", ride)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+ride.ID.String()+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+ride.ID.String()+"/complete", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second complete: expected 409, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+ride.ID.String()+"/rate-driver", map[string]int{"score": 6})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad score: expected 400, got %d", rec.Code)
	}
	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+ride.ID.String()+"/rate-driver", map[string]int{"score": 4})
	if rec.Code != http.StatusOK {
		t.Fatalf("rate: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+ride.ID.String()+"/rate-driver", map[string]int{"score": 4})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double rate: expected 409, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/riders/"+rider.ID.String(), nil)
	var after models.Rider
	decodeInto(t, rec, &after)
	if after.Wallet != 750 || after.CurrentRide != nil {
		t.Fatalf("rider after ride: %+v", after)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/riders/"+rider.ID.String()+"/rides", nil)
	var hist []models.Ride
	decodeInto(t, rec, &hist)
	if len(hist) != 1 || hist[0].ID != ride.ID {
		t.Fatalf("history: %+v", hist)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/stats", nil)
	var stats marketplace.Stats
	decodeInto(t, rec, &stats)
	if stats.CompletedRides != 1 || stats.Riders != 1 || stats.Drivers != 1 || stats.AvailableDrivers != 1 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestInsufficientFundsMapsTo402(t *testing.T) {
	s, _ := newTestServer(t)
	rider := registerRider(t, s, "Rahim", 100)
	registerDriver(t, s, "Karim", "car")

	rec := do(t, s, http.MethodPost, "/api/v1/rides/request", map[string]any{
		"rider_id": rider.ID, "destination": "Motijheel", "vehicle_type": "car",
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	decodeInto(t, rec, &body)
	if body.Need != 350 || body.Balance != 100 || body.Shortfall != 250 {
		t.Fatalf("unexpected body: %+v", body)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/drivers/available", nil)
	var avail []models.Driver
	decodeInto(t, rec, &avail)
	if len(avail) != 1 {
		t.Fatalf("driver must be free after rollback, got %d available", len(avail))
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s, _ := newTestServer(t)
	rider := registerRider(t, s, "Rahim", 1000)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"no driver", http.MethodPost, "/api/v1/rides/request", map[string]any{"rider_id": rider.ID, "destination": "X", "vehicle_type": "cng"}, http.StatusServiceUnavailable},
		{"bad vehicle", http.MethodPost, "/api/v1/rides/request", map[string]any{"rider_id": rider.ID, "destination": "X", "vehicle_type": "plane"}, http.StatusBadRequest},
		{"unknown rider", http.MethodGet, "/api/v1/riders/" + uuid.NewString(), nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/v1/riders/not-a-uuid", nil, http.StatusBadRequest},
		{"unknown ride", http.MethodPost, "/api/v1/rides/" + uuid.NewString() + "/cancel", map[string]string{"by": "rider"}, http.StatusNotFound},
		{"bad initiator", http.MethodPost, "/api/v1/rides/" + uuid.NewString() + "/cancel", map[string]string{"by": "admin"}, http.StatusBadRequest},
		{"zero top-up", http.MethodPost, "/api/v1/riders/" + rider.ID.String() + "/wallet", map[string]float64{"amount": 0}, http.StatusBadRequest},
		{"bad threshold", http.MethodGet, "/api/v1/drivers/search?min_rating=7", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/drivers/top?limit=-1", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := do(t, s, tt.method, tt.path, tt.body)
		if rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d (%s)", tt.name, tt.want, rec.Code, rec.Body.String())
		}
	}
}

func TestCancelDefaultsToRider(t *testing.T) {
	s, _ := newTestServer(t)
	rider := registerRider(t, s, "Rahim", 500)
	registerDriver(t, s, "Karim", "bike")
	rec := do(t, s, http.MethodPost, "/api/v1/rides/request", map[string]any{
		"rider_id": rider.ID, "destination": "Banani", "vehicle_type": "bike",
	})
	var ride models.Ride
	decodeInto(t, rec, &ride)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rides/"+ride.ID.String()+"/cancel", nil)
	out := httptest.NewRecorder()
	s.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", out.Code, out.Body.String())
	}
	var res marketplace.CancelResult
	decodeInto(t, out, &res)
	if !res.FeeCharged || res.Fee != 20 || res.Ride.CancelledBy != models.ByRider {
		t.Fatalf("unexpected cancel result: %+v", res)
	}
}

func TestDriverQueries(t *testing.T) {
	s, _ := newTestServer(t)
	registerDriver(t, s, "A", "car")
	registerDriver(t, s, "B", "bike")

	rec := do(t, s, http.MethodGet, "/api/v1/drivers/top", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("top: %d", rec.Code)
	}
	rec = do(t, s, http.MethodGet, "/api/v1/drivers/search?min_rating=1.0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodGet, "/api/v1/riders?q=nobody", nil)
	if rec.Code != http.StatusOK || bytes.TrimSpace(rec.Body.Bytes())[0] != '[' {
		t.Fatalf("empty search should be a JSON array: %s", rec.Body.String())
	}
}

func TestAdminSaveWritesSnapshot(t *testing.T) {
	s, fs := newTestServer(t)
	registerRider(t, s, "Rahim", 10)
	rec := do(t, s, http.MethodPost, "/api/v1/admin/save", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: %d %s", rec.Code, rec.Body.String())
	}
	snap, err := fs.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Riders) != 1 || snap.Company.Name != "QuickRide" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestHealthzAndRequestID(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("request id not echoed: %q", got)
	}
}

func TestWSRejectsUnknownDriver(t *testing.T) {
	s, _ := newTestServer(t)
	for path, want := range map[string]int{
		"/ws/not-a-uuid":                  http.StatusBadRequest,
		fmt.Sprintf("/ws/%s", uuid.New()): http.StatusNotFound,
	} {
		rec := do(t, s, http.MethodGet, path, nil)
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}
}

func TestRequestIDReachesRegistryLogs(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.New(&logs, "ride-api", "info")
	reg := marketplace.New("QuickRide", storage.NewMemoryStore(), fare.FixedDistance(10), marketplace.WithLogger(logger))
	s := NewServer(reg, dispatch.NewWSRegistry(nil), persistence.NewFileStore(t.TempDir()), logger)
	rider := registerRider(t, s, "Rahim", 1000)
	registerDriver(t, s, "Karim", "car")
	logs.Reset()

	body, _ := json.Marshal(map[string]any{"rider_id": rider.ID, "destination": "Banani", "vehicle_type": "car"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rides/request", bytes.NewReader(body))
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("request ride: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") != "req-abc" {
		t.Fatalf("request id not echoed: %q", rec.Header().Get("X-Request-ID"))
	}

	tagged := map[string]bool{}
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatal(err)
		}
		if entry["request_id"] == "req-abc" {
			tagged[entry["msg"].(string)] = true
		}
	}
	if !tagged["ride confirmed"] || !tagged["http_request"] {
		t.Fatalf("request id missing from log lines: %s", logs.String())
	}
}
