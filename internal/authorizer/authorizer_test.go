package authorizer

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fuelpay/internal/clients"
	"fuelpay/internal/models"
	"fuelpay/internal/reservation"
)

type fakePumpAPI struct {
	authorizeID  string
	authorizeErr error
	reserveResp  clients.ReservationResponse
	unlockID     string
	unlockErr    error

	authorizeCalls []clients.AuthorizationRequest
	unlockCalls    []string
}

func (f *fakePumpAPI) Authorize(_ context.Context, req clients.AuthorizationRequest) (string, error) {
	f.authorizeCalls = append(f.authorizeCalls, req)
	return f.authorizeID, f.authorizeErr
}

func (f *fakePumpAPI) Reserve(_ context.Context, req clients.AuthorizationRequest) (clients.ReservationResponse, error) {
	return f.reserveResp, nil
}

func (f *fakePumpAPI) Unlock(_ context.Context, id string) (string, error) {
	f.unlockCalls = append(f.unlockCalls, id)
	return f.unlockID, f.unlockErr
}

func validRequest() Request {
	return Request{CardID: "card-1", PumpID: "pump-3", StationID: "st-1", Amount: 50, Passcode: "123456"}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing pump", func(r *Request) { r.PumpID = "" }},
		{"missing card", func(r *Request) { r.CardID = " " }},
		{"zero amount", func(r *Request) { r.Amount = 0 }},
		{"negative amount", func(r *Request) { r.Amount = -5 }},
		{"nan amount", func(r *Request) { r.Amount = math.NaN() }},
		{"missing passcode", func(r *Request) { r.Passcode = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakePumpAPI{authorizeID: "tx"}
			a := New(api, nil, zaptest.NewLogger(t))
			req := validRequest()
			tt.mutate(&req)

			_, err := a.AuthorizePump(context.Background(), req)
			assert.ErrorIs(t, err, models.ErrValidation)
			assert.Empty(t, api.authorizeCalls)
		})
	}
}

func TestAuthorizePump(t *testing.T) {
	api := &fakePumpAPI{authorizeID: "tx-1"}
	a := New(api, nil, zaptest.NewLogger(t))

	id, err := a.AuthorizePump(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "tx-1", id)
	require.Len(t, api.authorizeCalls, 1)
	assert.Equal(t, "123456", api.authorizeCalls[0].Passcode)
}

func TestAuthorizePumpWithoutIDIsContractViolation(t *testing.T) {
	api := &fakePumpAPI{}
	a := New(api, nil, zaptest.NewLogger(t))
	_, err := a.AuthorizePump(context.Background(), validRequest())
	assert.ErrorIs(t, err, models.ErrContractViolation)
}

func TestAuthorizePumpDoesNotRetry(t *testing.T) {
	api := &fakePumpAPI{authorizeErr: fmt.Errorf("%w: timeout", models.ErrTransport)}
	a := New(api, nil, zaptest.NewLogger(t))
	_, err := a.AuthorizePump(context.Background(), validRequest())
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Len(t, api.authorizeCalls, 1)
}

func TestReserveThenUnlock(t *testing.T) {
	ctx := context.Background()
	store := reservation.NewMemory()
	api := &fakePumpAPI{
		reserveResp: clients.ReservationResponse{MobileTransactionGUID: "res-1", Status: "Reserve"},
		unlockID:    "tx-ev",
	}
	a := New(api, store, zaptest.NewLogger(t))

	res, err := a.ReserveCharger(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ReservationReserved, res.Status)
	assert.Equal(t, "st-1", res.StationID)
	assert.Equal(t, 50.0, res.Amount)
	assert.Equal(t, "pump-3", res.PumpID)

	pending, err := a.PendingReservation(ctx, "st-1")
	require.NoError(t, err)
	assert.Equal(t, "res-1", pending.TransactionID)

	id, err := a.UnlockCharger(ctx, "st-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-ev", id)
	assert.Equal(t, []string{"res-1"}, api.unlockCalls)

	_, err = store.Get(ctx, "st-1")
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestNewReservationSupersedesPrevious(t *testing.T) {
	ctx := context.Background()
	api := &fakePumpAPI{reserveResp: clients.ReservationResponse{MobileTransactionGUID: "res-1"}}
	a := New(api, reservation.NewMemory(), zaptest.NewLogger(t))

	_, err := a.ReserveCharger(ctx, validRequest())
	require.NoError(t, err)
	api.reserveResp.MobileTransactionGUID = "res-2"
	_, err = a.ReserveCharger(ctx, validRequest())
	require.NoError(t, err)

	pending, err := a.PendingReservation(ctx, "st-1")
	require.NoError(t, err)
	assert.Equal(t, "res-2", pending.TransactionID)
}

func TestUnlockFailureStillClearsReservation(t *testing.T) {
	ctx := context.Background()
	store := reservation.NewMemory()
	api := &fakePumpAPI{
		reserveResp: clients.ReservationResponse{MobileTransactionGUID: "res-1"},
		unlockErr:   fmt.Errorf("%w: 502", models.ErrTransport),
	}
	a := New(api, store, zaptest.NewLogger(t))

	_, err := a.ReserveCharger(ctx, validRequest())
	require.NoError(t, err)

	_, err = a.UnlockCharger(ctx, "st-1")
	require.ErrorIs(t, err, models.ErrTransport)

	_, err = a.UnlockCharger(ctx, "st-1")
	assert.ErrorIs(t, err, ErrNoReservation)
	assert.Len(t, api.unlockCalls, 1)
}

func TestUnlockRequiresReserveStatus(t *testing.T) {
	ctx := context.Background()
	store := reservation.NewMemory()
	require.NoError(t, store.Save(ctx, models.Reservation{TransactionID: "res-1", Status: models.ReservationUnlocked, StationID: "st-1"}))
	api := &fakePumpAPI{unlockID: "tx"}
	a := New(api, store, zaptest.NewLogger(t))

	_, err := a.UnlockCharger(ctx, "st-1")
	assert.ErrorIs(t, err, ErrNoReservation)
	assert.Empty(t, api.unlockCalls)
}

func TestReserveRequiresStation(t *testing.T) {
	api := &fakePumpAPI{reserveResp: clients.ReservationResponse{MobileTransactionGUID: "res-1"}}
	a := New(api, nil, zaptest.NewLogger(t))
	req := validRequest()
	req.StationID = ""
	_, err := a.ReserveCharger(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrValidation)
}
