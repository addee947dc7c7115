// Package geocode resolves street addresses to coordinates with the Google
// Geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"pizzaRun/internal/geo"
)

const (
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultTimeout = 10 * time.Second
)

var (
	// ErrNoAPIKey is returned when the client was built without a key.
	ErrNoAPIKey = errors.New("geocode: no api key configured")
	// ErrNotFound is returned when the API answers with anything but OK.
	ErrNotFound = errors.New("geocode: address not found")
)

// Resolver turns an address into a point.
type Resolver interface {
	Resolve(ctx context.Context, address string) (geo.Point, error)
}

// Client is a rate limited Google Geocoding client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	apiKey      string
}

// NewClient builds a client allowing rps requests per second. An empty
// baseURL selects the public endpoint.
func NewClient(apiKey, baseURL string, rps float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		rateLimiter: rate.NewLimiter(rate.Limit(rps), 1),
		baseURL:     baseURL,
		apiKey:      apiKey,
	}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Resolve returns the location of the first result for address.
func (c *Client) Resolve(ctx context.Context, address string) (geo.Point, error) {
	if c.apiKey == "" {
		return geo.Point{}, ErrNoAPIKey
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return geo.Point{}, fmt.Errorf("rate limiter error: %w", err)
	}

	q := url.Values{}
	q.Set("address", address)
	q.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return geo.Point{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return geo.Point{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return geo.Point{}, fmt.Errorf("geocode: unexpected status %d", resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return geo.Point{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if body.Status != "OK" || len(body.Results) == 0 {
		return geo.Point{}, fmt.Errorf("%w: status %s", ErrNotFound, body.Status)
	}
	loc := body.Results[0].Geometry.Location
	return geo.Point{Lat: loc.Lat, Lon: loc.Lng}, nil
}
