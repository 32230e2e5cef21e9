package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/ride-sharing/internal/marketplace"
)

// Store saves and loads whole registry snapshots.
type Store interface {
	Save(ctx context.Context, snap marketplace.Snapshot) error
	Load(ctx context.Context) (marketplace.Snapshot, error)
}

const (
	ridersDoc  = "riders"
	driversDoc = "drivers"
	ridesDoc   = "rides"
	companyDoc = "company"
)

var documents = []string{ridersDoc, driversDoc, ridesDoc, companyDoc}

// encode renders the snapshot as its four documents, keyed by document name.
func encode(snap marketplace.Snapshot) (map[string][]byte, error) {
	if snap.Riders == nil {
		snap.Riders = []marketplace.RiderRecord{}
	}
	if snap.Drivers == nil {
		snap.Drivers = []marketplace.DriverRecord{}
	}
	if snap.Rides == nil {
		snap.Rides = []marketplace.RideRecord{}
	}
	parts := map[string]any{
		ridersDoc:  snap.Riders,
		driversDoc: snap.Drivers,
		ridesDoc:   snap.Rides,
		companyDoc: snap.Company,
	}
	out := make(map[string][]byte, len(parts))
	for name, v := range parts {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

// decode rebuilds a snapshot from whatever documents exist. Absent documents leave
// empty collections and the default company name.
func decode(docs map[string][]byte) (marketplace.Snapshot, error) {
	snap := marketplace.Snapshot{
		Company: marketplace.CompanyRecord{Name: marketplace.DefaultCompanyName},
		Riders:  []marketplace.RiderRecord{},
		Drivers: []marketplace.DriverRecord{},
		Rides:   []marketplace.RideRecord{},
	}
	targets := map[string]any{
		ridersDoc:  &snap.Riders,
		driversDoc: &snap.Drivers,
		ridesDoc:   &snap.Rides,
		companyDoc: &snap.Company,
	}
	for name, dst := range targets {
		b, ok := docs[name]
		if !ok || len(b) == 0 {
			continue
		}
		if err := json.Unmarshal(b, dst); err != nil {
			return marketplace.Snapshot{}, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	if snap.Company.Name == "" {
		snap.Company.Name = marketplace.DefaultCompanyName
	}
	return snap, nil
}
