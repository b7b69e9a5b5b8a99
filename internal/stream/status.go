package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"fuelpay/internal/models"
)

type statusPayload struct {
	ProductInfo           string `json:"ProductInfo"`
	TransactionStatusCode string `json:"TransactionStatusCode"`
}

// MapStatus maps a backend status code to the local lifecycle state. The
// second value reports whether post-session actions (receipt) are available.
func MapStatus(code string) (models.LifecycleState, bool) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case models.StatusCodeFueling, models.StatusCodeCharging:
		return models.StateFueling, false
	case models.StatusCodeFuelDone, models.StatusCodeChargeEnd:
		return models.StateCompleted, true
	default:
		return models.StateError, false
	}
}

// decodePayload accepts the transaction data either as a JSON string (what
// the hub sends) or as an inline object.
func decodePayload(raw json.RawMessage) (statusPayload, error) {
	var payload statusPayload
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &payload); err != nil {
			return statusPayload{}, fmt.Errorf("stream: decode transaction data: %w", err)
		}
		return payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return statusPayload{}, fmt.Errorf("stream: decode transaction data: %w", err)
	}
	return payload, nil
}

func buildUpdate(transactionID string, raw json.RawMessage) models.StatusUpdate {
	payload, err := decodePayload(raw)
	if err != nil {
		return models.StatusUpdate{
			TransactionID: transactionID,
			State:         models.StateError,
			Err:           fmt.Errorf("%w: %v", models.ErrStream, err),
		}
	}
	state, postAction := MapStatus(payload.TransactionStatusCode)
	update := models.StatusUpdate{
		TransactionID:       transactionID,
		State:               state,
		StatusCode:          payload.TransactionStatusCode,
		ProductInfo:         payload.ProductInfo,
		PostActionAvailable: postAction,
	}
	if state == models.StateError {
		update.Err = fmt.Errorf("stream: transaction reported status %q", payload.TransactionStatusCode)
	}
	return update
}
