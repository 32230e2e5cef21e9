package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/example/ride-sharing/internal/models"
)

// PostgresStore archives finished rides. It is not an arena: live rides stay in memory.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate executes a SQL file against the database.
func (p *PostgresStore) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply migration %s: %w", path, err)
	}
	return nil
}

const upsertRideSQL = `INSERT INTO rides(id, rider_id, driver_id, start_location, end_location, vehicle_type,
	license_plate, distance_km, fare, status, cancelled_by, start_time, end_time)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, cancelled_by=EXCLUDED.cancelled_by,
	end_time=EXCLUDED.end_time, fare=EXCLUDED.fare`

func (p *PostgresStore) UpsertRide(ctx context.Context, r *models.Ride) error {
	var riderID, driverID sql.NullString
	if r.RiderID != nil {
		riderID = sql.NullString{String: r.RiderID.String(), Valid: true}
	}
	if r.DriverID != nil {
		driverID = sql.NullString{String: r.DriverID.String(), Valid: true}
	}
	_, err := p.db.ExecContext(ctx, upsertRideSQL,
		r.ID.String(), riderID, driverID, r.StartLocation, r.EndLocation, string(r.Vehicle.Type),
		r.Vehicle.LicensePlate, r.DistanceKm, r.Fare, string(r.Status), string(r.CancelledBy),
		r.StartTime, r.EndTime)
	return err
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }
