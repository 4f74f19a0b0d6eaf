package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"
)

const (
	defaultOWMDataURL = "https://api.openweathermap.org/data/2.5"
	defaultOWMGeoURL  = "https://api.openweathermap.org/geo/1.0"
)

// CurrentObservation carries the fields extracted from a current-weather
// payload for the history buffer.
type CurrentObservation struct {
	Temp     float64
	Humidity float64
}

// GeoPlace is one geocoding result, reduced to the fields the UI needs.
type GeoPlace struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// OpenWeatherClient talks to the OpenWeather data and geocoding APIs.
type OpenWeatherClient struct {
	apiKey  string
	dataURL string
	geoURL  string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherClient(client *http.Client, apiKey string) *OpenWeatherClient {
	return &OpenWeatherClient{
		apiKey:  apiKey,
		dataURL: defaultOWMDataURL,
		geoURL:  defaultOWMGeoURL,
		client:  client,
		circuit: newBreaker("openweather"),
	}
}

// SetBaseURLs overrides the API endpoints, used by tests.
func (c *OpenWeatherClient) SetBaseURLs(dataURL, geoURL string) {
	c.dataURL = dataURL
	c.geoURL = geoURL
}

func (c *OpenWeatherClient) get(ctx context.Context, rawURL string) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("openweather api key is not configured")
	}

	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := doRequest(ctx, c.client, c.circuit, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: malformed payload", ErrUpstream)
	}
	return body, nil
}

// CurrentWeather fetches the current conditions for a city and extracts the
// temperature and humidity used for history points.
func (c *OpenWeatherClient) CurrentWeather(ctx context.Context, city string) (json.RawMessage, CurrentObservation, error) {
	values := url.Values{}
	values.Set("q", city)
	values.Set("units", "metric")
	values.Set("appid", c.apiKey)

	raw, err := c.get(ctx, fmt.Sprintf("%s/weather?%s", c.dataURL, values.Encode()))
	if err != nil {
		return nil, CurrentObservation{}, err
	}

	var payload struct {
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity float64 `json:"humidity"`
		} `json:"main"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, CurrentObservation{}, fmt.Errorf("%w: parse weather: %v", ErrUpstream, err)
	}

	return raw, CurrentObservation{
		Temp:     payload.Main.Temp,
		Humidity: payload.Main.Humidity,
	}, nil
}

// Forecast fetches the 5-day/3-hour forecast document for a city.
func (c *OpenWeatherClient) Forecast(ctx context.Context, city string) (json.RawMessage, error) {
	values := url.Values{}
	values.Set("q", city)
	values.Set("units", "metric")
	values.Set("appid", c.apiKey)

	return c.get(ctx, fmt.Sprintf("%s/forecast?%s", c.dataURL, values.Encode()))
}

// AirPollution fetches the air quality document for coordinates.
func (c *OpenWeatherClient) AirPollution(ctx context.Context, lat, lon float64) (json.RawMessage, error) {
	values := url.Values{}
	values.Set("lat", fmt.Sprintf("%f", lat))
	values.Set("lon", fmt.Sprintf("%f", lon))
	values.Set("appid", c.apiKey)

	return c.get(ctx, fmt.Sprintf("%s/air_pollution?%s", c.dataURL, values.Encode()))
}

// GeocodeDirect resolves a free-form query to up to limit places.
func (c *OpenWeatherClient) GeocodeDirect(ctx context.Context, query string, limit int) ([]GeoPlace, error) {
	values := url.Values{}
	values.Set("q", query)
	values.Set("limit", fmt.Sprintf("%d", limit))
	values.Set("appid", c.apiKey)

	raw, err := c.get(ctx, fmt.Sprintf("%s/direct?%s", c.geoURL, values.Encode()))
	if err != nil {
		return nil, err
	}

	var places []GeoPlace
	if err := json.Unmarshal(raw, &places); err != nil {
		return nil, fmt.Errorf("%w: parse geocode response: %v", ErrUpstream, err)
	}
	return places, nil
}

// GeocodeReverse resolves coordinates to the nearest known place.
func (c *OpenWeatherClient) GeocodeReverse(ctx context.Context, lat, lon float64) ([]GeoPlace, error) {
	values := url.Values{}
	values.Set("lat", fmt.Sprintf("%f", lat))
	values.Set("lon", fmt.Sprintf("%f", lon))
	values.Set("limit", "1")
	values.Set("appid", c.apiKey)

	raw, err := c.get(ctx, fmt.Sprintf("%s/reverse?%s", c.geoURL, values.Encode()))
	if err != nil {
		return nil, err
	}

	var places []GeoPlace
	if err := json.Unmarshal(raw, &places); err != nil {
		return nil, fmt.Errorf("%w: parse reverse geocode response: %v", ErrUpstream, err)
	}
	return places, nil
}
