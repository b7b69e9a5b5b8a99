// Package reservation keeps EV reservations keyed by station until they are
// unlocked.
package reservation

import (
	"context"
	"errors"
	"sync"

	"fuelpay/internal/models"
)

// ErrNotFound is returned when a station has no stored reservation.
var ErrNotFound = errors.New("reservation: not found")

// Store holds at most one reservation per station. Save overwrites.
type Store interface {
	Save(ctx context.Context, r models.Reservation) error
	Get(ctx context.Context, stationID string) (models.Reservation, error)
	Delete(ctx context.Context, stationID string) error
}

// Memory keeps reservations for the lifetime of the process.
type Memory struct {
	mu   sync.Mutex
	data map[string]models.Reservation
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]models.Reservation)}
}

// Save stores r, superseding any reservation for the same station.
func (m *Memory) Save(_ context.Context, r models.Reservation) error {
	if r.StationID == "" {
		return errors.New("reservation: station id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[r.StationID] = r
	return nil
}

// Get returns the reservation for stationID.
func (m *Memory) Get(_ context.Context, stationID string) (models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[stationID]
	if !ok {
		return models.Reservation{}, ErrNotFound
	}
	return r, nil
}

// Delete removes the reservation for stationID.
func (m *Memory) Delete(_ context.Context, stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, stationID)
	return nil
}
