package models

import "time"

// ReservationStatus is the local status of an EV reservation.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "Reserve"
	ReservationUnlocked ReservationStatus = "Unlocked"
)

// Reservation is an EV pre-authorization waiting to be unlocked.
type Reservation struct {
	TransactionID string            `json:"mobileTransactionGuid"`
	Status        ReservationStatus `json:"status"`
	Amount        float64           `json:"amount"`
	PumpID        string            `json:"pumpId"`
	StationID     string            `json:"stationId"`
	CreatedAt     time.Time         `json:"createdAt"`
}
