package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mvenkat/home-automation-hub/internal/scheduler"
	"github.com/mvenkat/home-automation-hub/internal/state"
)

// AppConfig holds everything the process needs from the environment.
type AppConfig struct {
	OWMAPIKey     string
	WeatherAPIKey string

	DeviceBaseURL string
	PredictorURL  string

	// DefaultLocation seeds the store before the first /api/location call.
	DefaultLocation state.Location

	Intervals scheduler.Intervals

	// HTTPTimeout bounds every outbound call.
	HTTPTimeout time.Duration

	// MaxHistory caps the temperature/humidity history buffer.
	MaxHistory int

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	cfg.OWMAPIKey = os.Getenv("OWM_API_KEY")
	cfg.WeatherAPIKey = os.Getenv("WEATHERAPI_KEY")
	if cfg.OWMAPIKey == "" {
		return nil, fmt.Errorf("OWM_API_KEY is required")
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHERAPI_KEY is required")
	}

	cfg.DeviceBaseURL = os.Getenv("ESP8266_BASE_URL")
	if cfg.DeviceBaseURL == "" {
		return nil, fmt.Errorf("ESP8266_BASE_URL is required")
	}
	cfg.PredictorURL = getenvDefault("PREDICTOR_URL", "http://localhost:5001")

	var err error
	cfg.Intervals, err = loadIntervals()
	if err != nil {
		return nil, err
	}

	cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.MaxHistory = getenvInt("HISTORY_MAX", state.DefaultMaxHistory)
	cfg.Port = getenvDefault("PORT", "3000")

	cfg.DefaultLocation = state.Location{
		Name: getenvDefault("DEFAULT_CITY", ""),
		Lat:  getenvFloat("DEFAULT_LAT", 0),
		Lon:  getenvFloat("DEFAULT_LON", 0),
	}

	return cfg, nil
}

func loadIntervals() (scheduler.Intervals, error) {
	var iv scheduler.Intervals
	var err error

	if iv.Weather, err = getenvDuration("WEATHER_INTERVAL", 5*time.Minute); err != nil {
		return iv, err
	}
	if iv.Forecast, err = getenvDuration("FORECAST_INTERVAL", 3*time.Hour); err != nil {
		return iv, err
	}
	if iv.Astronomy, err = getenvDuration("ASTRONOMY_INTERVAL", 3*time.Hour); err != nil {
		return iv, err
	}
	if iv.AirQuality, err = getenvDuration("AQI_INTERVAL", time.Hour); err != nil {
		return iv, err
	}
	if iv.Live, err = getenvDuration("LIVE_INTERVAL", 3*time.Hour); err != nil {
		return iv, err
	}
	if iv.Device, err = getenvDuration("DEVICE_INTERVAL", time.Minute); err != nil {
		return iv, err
	}
	return iv, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
