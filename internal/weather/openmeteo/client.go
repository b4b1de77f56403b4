// Package openmeteo is a weather.Provider backed by the Open-Meteo API,
// which needs no API key.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackrec/trackrec/internal/provider/resilience"
	"github.com/trackrec/trackrec/internal/weather"
)

const (
	// ProviderName identifies this provider.
	ProviderName = "open-meteo"

	// DefaultBaseURL is the Open-Meteo API base URL.
	DefaultBaseURL = "https://api.open-meteo.com"

	currentFields = "temperature_2m,wind_speed_10m,wind_direction_10m"
	timeLayout    = "2006-01-02T15:04"
)

// ClientConfig holds configuration for the Open-Meteo client.
type ClientConfig struct {
	// BaseURL overrides DefaultBaseURL.
	BaseURL string

	// HTTPClient is the resilient client to use; one is created when nil.
	HTTPClient *resilience.Client

	Logger zerolog.Logger
}

// Client is an Open-Meteo API client.
type Client struct {
	baseURL    string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new Open-Meteo client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

type forecastResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Current   struct {
		Time          string   `json:"time"`
		Temperature   *float64 `json:"temperature_2m"`
		WindSpeed     *float64 `json:"wind_speed_10m"`
		WindDirection *float64 `json:"wind_direction_10m"`
	} `json:"current"`
}

type elevationResponse struct {
	Elevation []float64 `json:"elevation"`
}

type errorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// CurrentWeather fetches current conditions. Wind speed is requested in m/s.
func (c *Client) CurrentWeather(ctx context.Context, lat, lon float64) (*weather.Observation, error) {
	q := coordinates(lat, lon)
	q.Set("current", currentFields)
	q.Set("wind_speed_unit", "ms")
	q.Set("timezone", "UTC")

	var resp forecastResponse
	if err := c.get(ctx, "/v1/forecast", q, &resp); err != nil {
		return nil, err
	}

	cur := resp.Current
	if cur.Temperature == nil || cur.WindSpeed == nil || cur.WindDirection == nil {
		return nil, errors.New("open-meteo: incomplete current conditions")
	}

	obs := &weather.Observation{
		Lat:           resp.Latitude,
		Lon:           resp.Longitude,
		Temperature:   *cur.Temperature,
		WindSpeed:     *cur.WindSpeed,
		WindDirection: *cur.WindDirection,
		FetchedAt:     time.Now(),
	}
	if t, err := time.Parse(timeLayout, cur.Time); err == nil {
		obs.ObservedAt = t
	}
	return obs, nil
}

// Elevation fetches the terrain elevation in meters.
func (c *Client) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	var resp elevationResponse
	if err := c.get(ctx, "/v1/elevation", coordinates(lat, lon), &resp); err != nil {
		return 0, err
	}
	if len(resp.Elevation) == 0 {
		return 0, errors.New("open-meteo: empty elevation response")
	}
	return resp.Elevation[0], nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) error {
	endpoint := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Reason != "" {
			return fmt.Errorf("open-meteo %s: %d: %s", path, resp.StatusCode, apiErr.Reason)
		}
		return fmt.Errorf("open-meteo %s: unexpected status code: %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	c.logger.Debug().Str("path", path).Msg("open-meteo request completed")
	return nil
}

func coordinates(lat, lon float64) url.Values {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 6, 64))
	return q
}
