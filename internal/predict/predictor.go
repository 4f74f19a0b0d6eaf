package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrPredictorUnavailable covers any failed exchange with the prediction
// service.
var ErrPredictorUnavailable = errors.New("predictor unavailable")

// defaultHours is the forecast horizon when the caller does not supply one.
const defaultHours = 5

// Observation is the fixed row shape the prediction service expects. Field
// names follow its training data columns.
type Observation struct {
	Time      string  `json:"time"`
	Temp      float64 `json:"temp"`
	Dewpoint  float64 `json:"dwpt"`
	Humidity  float64 `json:"rhum"`
	Precip    float64 `json:"prcp"`
	WindDir   float64 `json:"wdir"`
	WindSpeed float64 `json:"wspd"`
	Pressure  float64 `json:"pres"`
	Condition string  `json:"coco"`
}

// FormatObservation maps a WeatherAPI current.json document into the row the
// predictor consumes. It fails if the document lacks the location or current
// blocks.
func FormatObservation(raw json.RawMessage) (Observation, error) {
	var payload struct {
		Location *struct {
			Localtime string `json:"localtime"`
		} `json:"location"`
		Current *struct {
			TempC      float64 `json:"temp_c"`
			DewpointC  float64 `json:"dewpoint_c"`
			Humidity   float64 `json:"humidity"`
			PrecipMm   float64 `json:"precip_mm"`
			WindDegree float64 `json:"wind_degree"`
			WindKph    float64 `json:"wind_kph"`
			PressureMb float64 `json:"pressure_mb"`
			Condition  struct {
				Text string `json:"text"`
			} `json:"condition"`
		} `json:"current"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Observation{}, fmt.Errorf("parse live observation: %w", err)
	}
	if payload.Location == nil || payload.Current == nil {
		return Observation{}, errors.New("live observation missing location or current block")
	}

	// The predictor expects seconds on the timestamp; WeatherAPI's localtime
	// is minute-resolution ("2006-01-02 15:04").
	return Observation{
		Time:      payload.Location.Localtime + ":00",
		Temp:      payload.Current.TempC,
		Dewpoint:  payload.Current.DewpointC,
		Humidity:  payload.Current.Humidity,
		Precip:    payload.Current.PrecipMm,
		WindDir:   payload.Current.WindDegree,
		WindSpeed: payload.Current.WindKph,
		Pressure:  payload.Current.PressureMb,
		Condition: payload.Current.Condition.Text,
	}, nil
}

// Bridge forwards formatted observations to the external prediction service
// and relays its response verbatim.
type Bridge struct {
	baseURL string
	client  *http.Client
}

func NewBridge(client *http.Client, baseURL string) *Bridge {
	return &Bridge{baseURL: baseURL, client: client}
}

// Predict posts one observation with a forecast horizon and returns the
// service's JSON response as-is.
func (b *Bridge) Predict(ctx context.Context, obs Observation, hours int) (json.RawMessage, error) {
	if hours <= 0 {
		hours = defaultHours
	}

	body, err := json.Marshal(map[string]any{
		"live":  obs,
		"hours": hours,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPredictorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: returned %d", ErrPredictorUnavailable, resp.StatusCode)
	}

	result, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPredictorUnavailable, err)
	}
	if !json.Valid(result) {
		return nil, fmt.Errorf("%w: malformed response", ErrPredictorUnavailable)
	}
	return result, nil
}
