package models

// PumpType classifies what a station dispenses.
type PumpType string

const (
	PumpTypeGas      PumpType = "GAS"
	PumpTypeElectric PumpType = "ELE"
)

// IsElectric reports whether the classification is an EV charger.
func (t PumpType) IsElectric() bool {
	return t == PumpTypeElectric
}

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Station mirrors the station list payload. Distance fields are derived on the
// device and recomputed on every location update.
type Station struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Address           string     `json:"address"`
	Location          Coordinate `json:"location"`
	PumpType          PumpType   `json:"pumpType"`
	PumpCount         int        `json:"pumpCount"`
	MerchantID        string     `json:"merchantId"`
	Distance          float64    `json:"-"`
	FormattedDistance string     `json:"-"`
}
