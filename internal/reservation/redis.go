package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fuelpay/internal/models"
)

// Redis persists reservations so they survive an app restart.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns redis-backed store. A zero ttl keeps keys forever.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (s *Redis) key(stationID string) string {
	return fmt.Sprintf("reservations:station:%s", stationID)
}

// Save stores reservation, superseding any previous one for the station.
func (s *Redis) Save(ctx context.Context, r models.Reservation) error {
	if r.StationID == "" {
		return errors.New("reservation: station id is required")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(r.StationID), data, s.ttl).Err()
}

// Get returns stored reservation.
func (s *Redis) Get(ctx context.Context, stationID string) (models.Reservation, error) {
	result, err := s.client.Get(ctx, s.key(stationID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.Reservation{}, ErrNotFound
	}
	if err != nil {
		return models.Reservation{}, err
	}
	var r models.Reservation
	if err := json.Unmarshal([]byte(result), &r); err != nil {
		return models.Reservation{}, err
	}
	return r, nil
}

// Delete removes stored reservation.
func (s *Redis) Delete(ctx context.Context, stationID string) error {
	err := s.client.Del(ctx, s.key(stationID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
