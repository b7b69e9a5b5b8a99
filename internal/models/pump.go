package models

// Pump is an immutable snapshot of a dispenser or charger at a station.
type Pump struct {
	ID                string `json:"id"`
	Number            int    `json:"number"`
	StatusCode        string `json:"statusCode"`
	StatusDescription string `json:"statusDescription"`
	FuelTypeCode      string `json:"fuelTypeCode"`
	StationID         string `json:"stationId"`
}
