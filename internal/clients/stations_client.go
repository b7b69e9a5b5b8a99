package clients

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"fuelpay/internal/credstore"
	"fuelpay/internal/models"
)

const (
	defaultPumpCacheSize = 64
	defaultPumpCacheTTL  = 2 * time.Minute
)

// StationsClient fetches stations and their pumps.
type StationsClient struct {
	base  *BaseClient
	pumps *expirable.LRU[string, []models.Pump]
}

// NewStationsClient returns client. A zero ttl uses the default.
func NewStationsClient(baseURL string, httpClient HTTPDoer, tokens credstore.Store, ttl time.Duration) *StationsClient {
	if ttl <= 0 {
		ttl = defaultPumpCacheTTL
	}
	return &StationsClient{
		base:  NewBaseClient(baseURL, httpClient, tokens),
		pumps: expirable.NewLRU[string, []models.Pump](defaultPumpCacheSize, nil, ttl),
	}
}

// ListStations fetches the full station list. Each call replaces the
// previous list wholesale.
func (c *StationsClient) ListStations(ctx context.Context) ([]models.Station, error) {
	var stations []models.Station
	if err := c.base.DoJSON(ctx, http.MethodGet, "/stations", nil, &stations); err != nil {
		return nil, err
	}
	return stations, nil
}

// Pumps returns the pump snapshot for a station, cached briefly.
func (c *StationsClient) Pumps(ctx context.Context, stationID string) ([]models.Pump, error) {
	if cached, ok := c.pumps.Get(stationID); ok {
		return cached, nil
	}
	var pumps []models.Pump
	path := "/stations/" + url.PathEscape(stationID) + "/pumps"
	if err := c.base.DoJSON(ctx, http.MethodGet, path, nil, &pumps); err != nil {
		return nil, err
	}
	c.pumps.Add(stationID, pumps)
	return pumps, nil
}

// InvalidatePumps drops the cached snapshot for a station.
func (c *StationsClient) InvalidatePumps(stationID string) {
	c.pumps.Remove(stationID)
}
