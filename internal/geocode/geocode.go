// Package geocode resolves store addresses to coordinates. Resolution is
// best-effort: any failure degrades to the crawler-supplied address fields.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Location is a resolved address.
type Location struct {
	Latitude   float64
	Longitude  float64
	City       string
	PostalCode string
}

// Resolver resolves a postal address. A nil Location with a nil error means
// the address could not be resolved.
type Resolver interface {
	Resolve(ctx context.Context, address, postalCode, city string) (*Location, error)
}

// NopResolver never resolves anything. Used when no geocoding endpoint is
// configured.
type NopResolver struct{}

// Resolve always reports no match.
func (NopResolver) Resolve(ctx context.Context, address, postalCode, city string) (*Location, error) {
	return nil, nil
}

// HTTPResolver queries a photon-style geocoding endpoint.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
}

// NewHTTPResolver creates a resolver against the given endpoint.
func NewHTTPResolver(endpoint string) *HTTPResolver {
	return &HTTPResolver{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type photonResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			City     string `json:"city"`
			Postcode string `json:"postcode"`
		} `json:"properties"`
	} `json:"features"`
}

// Resolve queries the endpoint once and returns the best match, or nil
// when nothing matched.
func (r *HTTPResolver) Resolve(ctx context.Context, address, postalCode, city string) (*Location, error) {
	query := url.Values{}
	query.Set("q", strings.Join([]string{address, postalCode, city}, ", "))
	query.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/api?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("geocode endpoint returned status %d", resp.StatusCode)
	}

	var parsed photonResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse geocode response: %w", err)
	}
	if len(parsed.Features) == 0 || len(parsed.Features[0].Geometry.Coordinates) < 2 {
		return nil, nil
	}

	feature := parsed.Features[0]
	return &Location{
		Longitude:  feature.Geometry.Coordinates[0],
		Latitude:   feature.Geometry.Coordinates[1],
		City:       feature.Properties.City,
		PostalCode: feature.Properties.Postcode,
	}, nil
}
