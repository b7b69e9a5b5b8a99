// Package authorizer turns a confirmed payment into a pump transaction.
package authorizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"fuelpay/internal/clients"
	"fuelpay/internal/models"
	"fuelpay/internal/reservation"
)

// ErrNoReservation is returned when unlock finds nothing in Reserve status.
var ErrNoReservation = errors.New("authorizer: no reservation to unlock")

// PumpAPI is the backend surface used here; *clients.PumpClient implements it.
type PumpAPI interface {
	Authorize(ctx context.Context, req clients.AuthorizationRequest) (string, error)
	Reserve(ctx context.Context, req clients.AuthorizationRequest) (clients.ReservationResponse, error)
	Unlock(ctx context.Context, reservationID string) (string, error)
}

// Request is one payment/reservation attempt.
type Request struct {
	CardID    string
	LoyaltyID string
	PumpID    string
	StationID string
	Amount    float64
	Passcode  string
}

// Validate rejects requests that must never reach the network.
func (r Request) Validate() error {
	var problems []string
	if strings.TrimSpace(r.PumpID) == "" {
		problems = append(problems, "pump is required")
	}
	if strings.TrimSpace(r.CardID) == "" {
		problems = append(problems, "card is required")
	}
	if math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) || r.Amount <= 0 {
		problems = append(problems, "amount must be positive")
	}
	if r.Passcode == "" {
		problems = append(problems, "passcode is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (r Request) body() clients.AuthorizationRequest {
	return clients.AuthorizationRequest{
		CardID:    r.CardID,
		LoyaltyID: r.LoyaltyID,
		PumpID:    r.PumpID,
		Amount:    r.Amount,
		Passcode:  r.Passcode,
	}
}

// Authorizer issues authorization, reservation and unlock calls. It never
// retries: a failed call surfaces to the user, who decides whether to try again.
type Authorizer struct {
	api          PumpAPI
	reservations reservation.Store
	logger       *zap.Logger
	now          func() time.Time
}

// New builds authorizer.
func New(api PumpAPI, reservations reservation.Store, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reservations == nil {
		reservations = reservation.NewMemory()
	}
	return &Authorizer{api: api, reservations: reservations, logger: logger, now: time.Now}
}

// AuthorizePump pays for the pump and returns the transaction id.
func (a *Authorizer) AuthorizePump(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	id, err := a.api.Authorize(ctx, req.body())
	if err != nil {
		a.logger.Warn("pump authorization failed", zap.String("pump_id", req.PumpID), zap.Error(err))
		return "", err
	}
	if id == "" {
		return "", models.ContractViolation("mobileTransactionGuid")
	}
	a.logger.Info("pump authorized", zap.String("pump_id", req.PumpID), zap.String("transaction_id", id))
	return id, nil
}

// ReserveCharger reserves an EV charger and stores the reservation under
// the station, superseding any earlier one.
func (a *Authorizer) ReserveCharger(ctx context.Context, req Request) (models.Reservation, error) {
	if err := req.Validate(); err != nil {
		return models.Reservation{}, err
	}
	if strings.TrimSpace(req.StationID) == "" {
		return models.Reservation{}, fmt.Errorf("%w: station is required", models.ErrValidation)
	}
	resp, err := a.api.Reserve(ctx, req.body())
	if err != nil {
		a.logger.Warn("charger reservation failed", zap.String("pump_id", req.PumpID), zap.Error(err))
		return models.Reservation{}, err
	}
	if resp.MobileTransactionGUID == "" {
		return models.Reservation{}, models.ContractViolation("mobileTransactionGuid")
	}

	amount := resp.Amount
	if amount == 0 {
		amount = req.Amount
	}
	pumpID := resp.PumpID
	if pumpID == "" {
		pumpID = req.PumpID
	}
	res := models.Reservation{
		TransactionID: resp.MobileTransactionGUID,
		Status:        models.ReservationReserved,
		Amount:        amount,
		PumpID:        pumpID,
		StationID:     req.StationID,
		CreatedAt:     a.now().UTC(),
	}
	if err := a.reservations.Save(ctx, res); err != nil {
		return models.Reservation{}, fmt.Errorf("authorizer: store reservation: %w", err)
	}
	a.logger.Info("charger reserved", zap.String("station_id", req.StationID), zap.String("reservation_id", res.TransactionID))
	return res, nil
}

// PendingReservation returns the stored reservation for a station.
func (a *Authorizer) PendingReservation(ctx context.Context, stationID string) (models.Reservation, error) {
	return a.reservations.Get(ctx, stationID)
}

// UnlockCharger consumes the station's reservation. The reservation is
// removed before the call is made so the unlock is never issued twice,
// whatever its outcome.
func (a *Authorizer) UnlockCharger(ctx context.Context, stationID string) (string, error) {
	res, err := a.reservations.Get(ctx, stationID)
	if errors.Is(err, reservation.ErrNotFound) {
		return "", ErrNoReservation
	}
	if err != nil {
		return "", fmt.Errorf("authorizer: load reservation: %w", err)
	}
	if res.Status != models.ReservationReserved {
		return "", fmt.Errorf("%w: status %q", ErrNoReservation, res.Status)
	}
	if err := a.reservations.Delete(ctx, stationID); err != nil {
		return "", fmt.Errorf("authorizer: clear reservation: %w", err)
	}

	id, err := a.api.Unlock(ctx, res.TransactionID)
	if err != nil {
		a.logger.Warn("charger unlock failed", zap.String("station_id", stationID), zap.String("reservation_id", res.TransactionID), zap.Error(err))
		return "", err
	}
	if id == "" {
		return "", models.ContractViolation("mobileTransactionGuid")
	}
	a.logger.Info("charger unlocked", zap.String("station_id", stationID), zap.String("transaction_id", id))
	return id, nil
}
