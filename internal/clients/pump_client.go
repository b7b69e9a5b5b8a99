package clients

import (
	"context"
	"net/http"

	"fuelpay/internal/credstore"
	"fuelpay/internal/models"
)

// AuthorizationRequest is the body of the authorization, reserve and unlock
// family of calls.
type AuthorizationRequest struct {
	CardID    string  `json:"cardId"`
	LoyaltyID string  `json:"loyaltyCardId,omitempty"`
	PumpID    string  `json:"pumpId"`
	Amount    float64 `json:"amount"`
	Passcode  string  `json:"passcode"`
}

type transactionResponse struct {
	MobileTransactionGUID string `json:"mobileTransactionGuid"`
}

type unlockRequest struct {
	MobileTransactionGUID string `json:"mobileTransactionGuid"`
}

// ReservationResponse is the reserve payload.
type ReservationResponse struct {
	MobileTransactionGUID string  `json:"mobileTransactionGuid"`
	Status                string  `json:"status"`
	Amount                float64 `json:"amount"`
	PumpID                string  `json:"pumpId"`
}

// PumpClient talks to the pump authorization endpoints. None of its calls
// are retried: each one may move money.
type PumpClient struct {
	base *BaseClient
}

// NewPumpClient returns client.
func NewPumpClient(baseURL string, httpClient HTTPDoer, tokens credstore.Store) *PumpClient {
	return &PumpClient{base: NewBaseClient(baseURL, httpClient, tokens)}
}

// Authorize pays for a pump and returns the transaction id.
func (c *PumpClient) Authorize(ctx context.Context, req AuthorizationRequest) (string, error) {
	var resp transactionResponse
	if err := c.base.DoJSON(ctx, http.MethodPost, "/pumpAuthorization", req, &resp); err != nil {
		return "", err
	}
	if resp.MobileTransactionGUID == "" {
		return "", models.ContractViolation("mobileTransactionGuid")
	}
	return resp.MobileTransactionGUID, nil
}

// Reserve pre-authorizes an EV charger.
func (c *PumpClient) Reserve(ctx context.Context, req AuthorizationRequest) (ReservationResponse, error) {
	var resp ReservationResponse
	if err := c.base.DoJSON(ctx, http.MethodPost, "/pumpAuthorization/reserve", req, &resp); err != nil {
		return ReservationResponse{}, err
	}
	if resp.MobileTransactionGUID == "" {
		return ReservationResponse{}, models.ContractViolation("mobileTransactionGuid")
	}
	return resp, nil
}

// Unlock turns a reservation into a live charging transaction.
func (c *PumpClient) Unlock(ctx context.Context, reservationID string) (string, error) {
	var resp transactionResponse
	body := unlockRequest{MobileTransactionGUID: reservationID}
	if err := c.base.DoJSON(ctx, http.MethodPost, "/pumpAuthorization/unlock", body, &resp); err != nil {
		return "", err
	}
	if resp.MobileTransactionGUID == "" {
		return "", models.ContractViolation("mobileTransactionGuid")
	}
	return resp.MobileTransactionGUID, nil
}
