package state

import (
	"encoding/json"
	"time"
)

// SourceKind identifies one tracked upstream data source.
type SourceKind string

const (
	SourceWeather    SourceKind = "weather"
	SourceForecast   SourceKind = "forecast"
	SourceAstronomy  SourceKind = "astronomy"
	SourceAirQuality SourceKind = "aqi"
	SourceLive       SourceKind = "live"
)

// Snapshot is the latest known payload for one source kind.
// It is always replaced wholesale, never partially mutated.
type Snapshot struct {
	Kind      SourceKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updatedAt"` // always UTC
}

// DeviceState mirrors the ESP8266 status document: seven relays plus an
// optional onboard temperature reading.
type DeviceState struct {
	Relay1 int      `json:"relay1"`
	Relay2 int      `json:"relay2"`
	Relay3 int      `json:"relay3"`
	Relay4 int      `json:"relay4"`
	Relay5 int      `json:"relay5"`
	Relay6 int      `json:"relay6"`
	Relay7 int      `json:"relay7"`
	Temp   *float64 `json:"temp"`
}

// DefaultDeviceState is the documented fallback when the device is
// unreachable: all relays off, temperature unknown.
func DefaultDeviceState() DeviceState {
	return DeviceState{}
}

// HistoryPoint is one temperature/humidity sample recorded by the
// current-weather fetch. The timestamp is unix milliseconds.
type HistoryPoint struct {
	TS       int64   `json:"ts"`
	Temp     float64 `json:"temp"`
	Humidity float64 `json:"humidity"`
}

// Location is the active place location-dependent fetches operate against.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}
