package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-sharing/internal/dispatch"
	"github.com/example/ride-sharing/internal/marketplace"
	"github.com/example/ride-sharing/internal/models"
	"github.com/example/ride-sharing/internal/persistence"
)

type Server struct {
	Registry  *marketplace.Registry
	WSReg     *dispatch.WSRegistry // optional
	Snapshots persistence.Store    // optional
	logger    *slog.Logger
	mux       *mux.Router
}

func NewServer(reg *marketplace.Registry, ws *dispatch.WSRegistry, snaps persistence.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{Registry: reg, WSReg: ws, Snapshots: snaps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/riders", s.handleRegisterRider).Methods(http.MethodPost)
	api.HandleFunc("/riders", s.handleListRiders).Methods(http.MethodGet)
	api.HandleFunc("/riders/{id}", s.handleGetRider).Methods(http.MethodGet)
	api.HandleFunc("/riders/{id}/wallet", s.handleLoadCash).Methods(http.MethodPost)
	api.HandleFunc("/riders/{id}/location", s.handleUpdateLocation).Methods(http.MethodPut)
	api.HandleFunc("/riders/{id}/rides", s.handleRideHistory).Methods(http.MethodGet)

	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods(http.MethodPost)
	api.HandleFunc("/drivers", s.handleListDrivers).Methods(http.MethodGet)
	api.HandleFunc("/drivers/available", s.handleAvailableDrivers).Methods(http.MethodGet)
	api.HandleFunc("/drivers/top", s.handleTopRated).Methods(http.MethodGet)
	api.HandleFunc("/drivers/search", s.handleSearchDrivers).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}", s.handleGetDriver).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}/vehicle", s.handleAssignVehicle).Methods(http.MethodPut)

	api.HandleFunc("/rides/request", s.handleRideRequest).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/complete", s.handleCompleteRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/rate-driver", s.handleRateDriver).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/rate-rider", s.handleRateRider).Methods(http.MethodPost)

	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/admin/save", s.handleSave).Methods(http.MethodPost)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRegisterRider(w http.ResponseWriter, r *http.Request) {
	var in marketplace.NewRider
	if !decode(w, r, &in) {
		return
	}
	rider, err := s.Registry.RegisterRider(in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rider)
}

func (s *Server) handleListRiders(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("q"); q != "" {
		writeJSON(w, http.StatusOK, nonNil(s.Registry.SearchRidersByName(q)))
		return
	}
	writeJSON(w, http.StatusOK, s.Registry.Riders())
}

func (s *Server) handleGetRider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rider, err := s.Registry.Rider(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rider)
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handleLoadCash(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in amountRequest
	if !decode(w, r, &in) {
		return
	}
	rider, err := s.Registry.LoadCash(id, in.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rider)
}

type locationRequest struct {
	Location string `json:"location"`
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in locationRequest
	if !decode(w, r, &in) {
		return
	}
	rider, err := s.Registry.UpdateLocation(id, in.Location)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rider)
}

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rides, err := s.Registry.History(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var in marketplace.NewDriver
	if !decode(w, r, &in) {
		return
	}
	if in.Vehicle != nil {
		vt, err := models.ParseVehicleType(string(in.Vehicle.Type))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		in.Vehicle.Type = vt
	}
	d, err := s.Registry.RegisterDriver(in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.Drivers())
}

func (s *Server) handleAvailableDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.AvailableDrivers())
}

func (s *Server) handleTopRated(w http.ResponseWriter, r *http.Request) {
	limit := marketplace.DefaultTopRatedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.Registry.TopRated(limit))
}

func (s *Server) handleSearchDrivers(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("min_rating")
	threshold, err := strconv.ParseFloat(v, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "min_rating must be a number"})
		return
	}
	if err := marketplace.ValidateRatingThreshold(threshold); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Registry.ByMinRating(threshold))
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	d, err := s.Registry.Driver(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAssignVehicle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var v models.Vehicle
	if !decode(w, r, &v) {
		return
	}
	vt, err := models.ParseVehicleType(string(v.Type))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v.Type = vt
	d, err := s.Registry.AssignVehicle(id, v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var rr models.RideRequest
	if !decode(w, r, &rr) {
		return
	}
	ride, err := s.Registry.RequestRide(r.Context(), rr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ride, err := s.Registry.Ride(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ride, err := s.Registry.CompleteRide(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type cancelRequest struct {
	By string `json:"by"`
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	// the body is optional; an empty one means the rider cancels
	var in cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}
	by, err := models.ParseInitiator(in.By)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Registry.CancelRide(r.Context(), id, by)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type ratingRequest struct {
	Score int `json:"score"`
}

func (s *Server) handleRateDriver(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in ratingRequest
	if !decode(w, r, &in) {
		return
	}
	d, err := s.Registry.RateDriver(id, in.Score)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRateRider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in ratingRequest
	if !decode(w, r, &in) {
		return
	}
	rider, err := s.Registry.RateRider(id, in.Score)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rider)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.Stats())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.Snapshots == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "no snapshot store configured"})
		return
	}
	snap := s.Registry.Snapshot()
	if err := s.Snapshots.Save(r.Context(), snap); err != nil {
		s.logger.Error("snapshot save failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "snapshot save failed"})
		return
	}
	writeJSON(w, http.StatusOK, snap.Company)
}

var upgrader = websocket.Upgrader{}

// handleWS keeps a driver's socket registered until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.WSReg == nil {
		http.Error(w, "dispatch disabled", http.StatusServiceUnavailable)
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["driver_id"])
	if err != nil {
		http.Error(w, "invalid driver id", http.StatusBadRequest)
		return
	}
	if _, err := s.Registry.Driver(id); err != nil {
		http.Error(w, "unknown driver", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "driver_id", id.String(), "error", err)
		return
	}
	s.WSReg.Add(id.String(), conn)
	s.logger.Info("driver connected", "driver_id", id.String())
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.WSReg.Remove(id.String())
	_ = conn.Close()
	s.logger.Info("driver disconnected", "driver_id", id.String())
}

type errorBody struct {
	Error     string  `json:"error"`
	Need      float64 `json:"need,omitempty"`
	Balance   float64 `json:"balance,omitempty"`
	Shortfall float64 `json:"shortfall,omitempty"`
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidRating):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNoDriverAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrAlreadyTerminal), errors.Is(err, models.ErrAlreadyRated):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var fe *models.FundsError
	if errors.As(err, &fe) {
		body.Need, body.Balance, body.Shortfall = fe.Need, fe.Balance, models.RoundMoney(fe.Shortfall())
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err)
		body = errorBody{Error: "internal error"}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[key])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid " + key})
		return uuid.Nil, false
	}
	return id, true
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func newID() string { return uuid.NewString() }
