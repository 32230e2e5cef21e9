package storage

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/example/ride-sharing/internal/models"
)

// TripStore is the arena that owns Ride records. Riders and drivers refer to rides by ID.
type TripStore interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
	DeleteRide(id uuid.UUID) error
	Get(id uuid.UUID) (*models.Ride, bool)
	List() []*models.Ride
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[uuid.UUID]*models.Ride
	order []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[uuid.UUID]*models.Ride)}
}

// SaveRide assigns an ID when the ride has none.
func (m *MemoryStore) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if _, ok := m.rides[r.ID]; ok {
		return fmt.Errorf("ride %s already stored", r.ID)
	}
	m.rides[r.ID] = r
	m.order = append(m.order, r.ID)
	return nil
}

func (m *MemoryStore) UpdateRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return fmt.Errorf("%w: ride %s", models.ErrNotFound, r.ID)
	}
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryStore) DeleteRide(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[id]; !ok {
		return fmt.Errorf("%w: ride %s", models.ErrNotFound, id)
	}
	delete(m.rides, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) Get(id uuid.UUID) (*models.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}

// List returns rides in insertion order.
func (m *MemoryStore) List() []*models.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rides[id])
	}
	return out
}
