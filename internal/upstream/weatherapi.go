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

const defaultWeatherAPIURL = "https://api.weatherapi.com/v1"

// WeatherAPIClient talks to WeatherAPI.com for live observations and
// astronomy data.
type WeatherAPIClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIClient(client *http.Client, apiKey string) *WeatherAPIClient {
	return &WeatherAPIClient{
		apiKey:  apiKey,
		baseURL: defaultWeatherAPIURL,
		client:  client,
		circuit: newBreaker("weatherapi"),
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *WeatherAPIClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

func (c *WeatherAPIClient) get(ctx context.Context, rawURL string) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("weatherapi api key is not configured")
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

// Current fetches the live observation document for a city.
func (c *WeatherAPIClient) Current(ctx context.Context, city string) (json.RawMessage, error) {
	values := url.Values{}
	values.Set("key", c.apiKey)
	values.Set("q", city)
	values.Set("aqi", "no")

	return c.get(ctx, fmt.Sprintf("%s/current.json?%s", c.baseURL, values.Encode()))
}

// Astronomy fetches sunrise/sunset and moon data for a city on a date
// (YYYY-MM-DD).
func (c *WeatherAPIClient) Astronomy(ctx context.Context, city, date string) (json.RawMessage, error) {
	values := url.Values{}
	values.Set("key", c.apiKey)
	values.Set("q", city)
	values.Set("dt", date)

	return c.get(ctx, fmt.Sprintf("%s/astronomy.json?%s", c.baseURL, values.Encode()))
}
