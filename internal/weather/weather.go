// Package weather talks to the OpenWeather REST APIs: direct geocoding
// to resolve a city name into coordinates, then the current-weather
// endpoint for conditions. Lookup failures are split into "the place
// does not exist" (ErrLocationNotFound) and everything else, because
// callers phrase those differently to the user.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ismatov/assistant-bot/internal/httpkit"
)

// DefaultBaseURL is the production OpenWeather endpoint.
const DefaultBaseURL = "https://api.openweathermap.org"

// requestTimeout bounds each API call.
const requestTimeout = 10 * time.Second

// ErrLocationNotFound means geocoding returned no match for the query.
var ErrLocationNotFound = errors.New("location not found")

// Coordinates is a geographic coordinate pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Report is the subset of the current-weather payload the formatter
// needs.
type Report struct {
	Name    string      `json:"name"`
	Sys     SysInfo     `json:"sys"`
	Weather []Condition `json:"weather"`
	Main    MainInfo    `json:"main"`
	Wind    WindInfo    `json:"wind"`
}

// SysInfo carries the country code for the resolved location.
type SysInfo struct {
	Country string `json:"country"`
}

// Condition is one weather condition entry.
type Condition struct {
	Description string `json:"description"`
}

// MainInfo holds the temperature block.
type MainInfo struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Humidity  int     `json:"humidity"`
}

// WindInfo holds wind conditions.
type WindInfo struct {
	Speed float64 `json:"speed"`
}

// Client fetches weather data for city names.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates an OpenWeather client. baseURL may be empty to use
// the production endpoint.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpkit.NewClient(httpkit.WithTimeout(requestTimeout)),
	}
}

// Geocode resolves a city name via the direct geocoding endpoint.
// Returns ErrLocationNotFound when the API finds nothing.
func (c *Client) Geocode(ctx context.Context, city string) (Coordinates, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return Coordinates{}, fmt.Errorf("city name must not be empty")
	}

	q := url.Values{}
	q.Set("q", city)
	q.Set("limit", "1")
	q.Set("appid", c.apiKey)

	var payload []Coordinates
	if err := c.getJSON(ctx, "/geo/1.0/direct", q, &payload); err != nil {
		return Coordinates{}, err
	}
	if len(payload) == 0 {
		return Coordinates{}, fmt.Errorf("geocode %q: %w", city, ErrLocationNotFound)
	}
	return payload[0], nil
}

// Current fetches current conditions for the given coordinates.
func (c *Client) Current(ctx context.Context, coords Coordinates, units string) (*Report, error) {
	if units == "" {
		units = "metric"
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%g", coords.Lat))
	q.Set("lon", fmt.Sprintf("%g", coords.Lon))
	q.Set("units", units)
	q.Set("appid", c.apiKey)

	var report Report
	if err := c.getJSON(ctx, "/data/2.5/weather", q, &report); err != nil {
		return nil, err
	}
	if len(report.Weather) == 0 {
		return nil, fmt.Errorf("weather payload missing conditions")
	}
	return &report, nil
}

// ByCity combines geocoding and the current-weather lookup.
func (c *Client) ByCity(ctx context.Context, city, units string) (*Report, error) {
	coords, err := c.Geocode(ctx, city)
	if err != nil {
		return nil, err
	}
	return c.Current(ctx, coords, units)
}

// FetchAndFormat looks up a city and renders the user-facing report.
// This is the collaborator contract the broadcast loop and the
// /weather command both consume.
func (c *Client) FetchAndFormat(ctx context.Context, city, units string) (string, error) {
	report, err := c.ByCity(ctx, city, units)
	if err != nil {
		return "", err
	}
	return FormatReport(report, city), nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openweather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("openweather %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode openweather response: %w", err)
	}
	return nil
}
