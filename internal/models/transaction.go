package models

import "time"

// LifecycleState is the local view of a pump/charger session.
type LifecycleState string

const (
	StateIdle       LifecycleState = ""
	StateProcessing LifecycleState = "processing"
	StateConnecting LifecycleState = "connecting"
	StateReady      LifecycleState = "ready"
	StateFueling    LifecycleState = "fueling"
	StateCompleted  LifecycleState = "completed"
	StateError      LifecycleState = "error"
)

// Terminal reports whether no further transitions are accepted.
func (s LifecycleState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// Active reports whether a session is live (started and not terminal).
func (s LifecycleState) Active() bool {
	return s != StateIdle && !s.Terminal()
}

// Backend transaction status codes pushed by the status hub.
const (
	StatusCodeFueling   = "FUE"
	StatusCodeCharging  = "CHR"
	StatusCodeFuelDone  = "FUC"
	StatusCodeChargeEnd = "CHC"
)

// Transaction is a session authorized against a pump.
type Transaction struct {
	ID          string         `json:"mobileTransactionGuid"`
	Status      LifecycleState `json:"status"`
	ProductInfo string         `json:"productInfo,omitempty"`
	Amount      float64        `json:"amount"`
	PumpID      string         `json:"pumpId"`
	CardID      string         `json:"cardId"`
	StationID   string         `json:"stationId"`
}

// StatusUpdate is a single lifecycle change produced by the stream client.
type StatusUpdate struct {
	TransactionID       string
	State               LifecycleState
	StatusCode          string
	ProductInfo         string
	PostActionAvailable bool
	Err                 error
}

// SessionRecord is what the journal keeps for the receipt screen.
type SessionRecord struct {
	TransactionID string
	StationID     string
	PumpID        string
	PumpType      PumpType
	Amount        float64
	State         LifecycleState
	ProductInfo   string
	StartedAt     time.Time
	FinishedAt    time.Time
}
