package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-sharing/internal/models"
)

const DefaultTopic = "ride-events"

// RideEvent is the wire form of a ride that reached a terminal state.
type RideEvent struct {
	RideID        string     `json:"ride_id"`
	Status        string     `json:"status"`
	RiderID       string     `json:"rider_id,omitempty"`
	DriverID      string     `json:"driver_id,omitempty"`
	StartLocation string     `json:"start_location"`
	EndLocation   string     `json:"end_location"`
	VehicleType   string     `json:"vehicle_type"`
	LicensePlate  string     `json:"license_plate"`
	DistanceKm    float64    `json:"distance_km"`
	Fare          float64    `json:"fare"`
	CancelledBy   string     `json:"cancelled_by,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	PublishedAt   time.Time  `json:"published_at"`
}

func NewRideEvent(r models.Ride, at time.Time) RideEvent {
	ev := RideEvent{
		RideID:        r.ID.String(),
		Status:        string(r.Status),
		StartLocation: r.StartLocation,
		EndLocation:   r.EndLocation,
		VehicleType:   string(r.Vehicle.Type),
		LicensePlate:  r.Vehicle.LicensePlate,
		DistanceKm:    r.DistanceKm,
		Fare:          r.Fare,
		CancelledBy:   string(r.CancelledBy),
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		PublishedAt:   at.UTC(),
	}
	if r.RiderID != nil {
		ev.RiderID = r.RiderID.String()
	}
	if r.DriverID != nil {
		ev.DriverID = r.DriverID.String()
	}
	return ev
}

// Ride rebuilds the ride carried by the event.
func (e RideEvent) Ride() (models.Ride, error) {
	id, err := uuid.Parse(e.RideID)
	if err != nil {
		return models.Ride{}, fmt.Errorf("%w: ride_id: %v", models.ErrInvalidInput, err)
	}
	r := models.Ride{
		ID:            id,
		StartLocation: e.StartLocation,
		EndLocation:   e.EndLocation,
		Vehicle:       models.Vehicle{Type: models.VehicleType(e.VehicleType), LicensePlate: e.LicensePlate},
		DistanceKm:    e.DistanceKm,
		Fare:          e.Fare,
		Status:        models.RideStatus(e.Status),
		CancelledBy:   models.Initiator(e.CancelledBy),
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
	}
	if e.RiderID != "" {
		rid, err := uuid.Parse(e.RiderID)
		if err != nil {
			return models.Ride{}, fmt.Errorf("%w: rider_id: %v", models.ErrInvalidInput, err)
		}
		r.RiderID = &rid
	}
	if e.DriverID != "" {
		did, err := uuid.Parse(e.DriverID)
		if err != nil {
			return models.Ride{}, fmt.Errorf("%w: driver_id: %v", models.ErrInvalidInput, err)
		}
		r.DriverID = &did
	}
	return r, nil
}

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return NewProducerWithWriter(w)
}

func NewProducerWithWriter(w MessageWriter) *KafkaProducer {
	return &KafkaProducer{writer: w, timeout: 2 * time.Second}
}

// PublishRide writes the ride keyed by its ID so every event for one ride lands on the
// same partition.
func (k *KafkaProducer) PublishRide(ctx context.Context, r models.Ride) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(NewRideEvent(r, time.Now()))
	if err != nil {
		return fmt.Errorf("encode ride event: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(r.ID.String()), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
