package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quotehive/quotehive/internal/config"
	"go.uber.org/fx"
)

var ErrPostcodeNotFound = errors.New("postcode_not_found")

// Location is the geocoding result for a postcode.
type Location struct {
	Postcode  string
	Latitude  float64
	Longitude float64
	City      string
}

// Geocoder resolves postcodes to coordinates.
type Geocoder interface {
	Lookup(ctx context.Context, postcode string) (*Location, error)
}

var Module = fx.Module("geo",
	fx.Provide(NewClient),
	fx.Provide(func(c *Client) Geocoder { return NewCachingGeocoder(c) }),
)

// Client talks to a postcodes.io-compatible lookup API.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.GeocodeBaseURL, "/"),
		client:  &http.Client{Timeout: 8 * time.Second},
	}
}

type lookupResponse struct {
	Status int `json:"status"`
	Result *struct {
		Postcode      string  `json:"postcode"`
		Latitude      float64 `json:"latitude"`
		Longitude     float64 `json:"longitude"`
		AdminDistrict string  `json:"admin_district"`
	} `json:"result"`
}

func (c *Client) Lookup(ctx context.Context, postcode string) (*Location, error) {
	normalized := NormalizePostcode(postcode)
	if normalized == "" {
		return nil, ErrPostcodeNotFound
	}

	endpoint := fmt.Sprintf("%s/postcodes/%s", c.baseURL, url.PathEscape(normalized))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPostcodeNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode lookup failed with status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Result == nil {
		return nil, ErrPostcodeNotFound
	}

	return &Location{
		Postcode:  body.Result.Postcode,
		Latitude:  body.Result.Latitude,
		Longitude: body.Result.Longitude,
		City:      body.Result.AdminDistrict,
	}, nil
}
