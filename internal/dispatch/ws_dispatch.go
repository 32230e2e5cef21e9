package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-sharing/internal/models"
)

var ErrNoSession = errors.New("no ws session")

// writeWait bounds a single offer write.
const writeWait = 5 * time.Second

// Conn is the part of *websocket.Conn a session writes to.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// WSSession represents a connected driver session
type WSSession struct {
	conn Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(offer models.MatchOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(offer)
}

// WSRegistry holds driver sessions keyed by driver ID. Offers for drivers without a
// session go to Fallback when set.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	Fallback Dispatcher
}

func NewWSRegistry(fallback Dispatcher) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), Fallback: fallback}
}

// Add registers conn for driverID, closing any previous session.
func (r *WSRegistry) Add(driverID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[driverID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, driverID)
}

func (r *WSRegistry) Offer(offer models.MatchOffer) error {
	id := offer.DriverID.String()
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		if r.Fallback != nil {
			return r.Fallback.Offer(offer)
		}
		return ErrNoSession
	}
	if err := s.Send(offer); err != nil {
		r.Remove(id)
		return err
	}
	return nil
}
