package httpapi

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mvenkat/home-automation-hub/internal/device"
	"github.com/mvenkat/home-automation-hub/internal/hub"
	"github.com/mvenkat/home-automation-hub/internal/predict"
	"github.com/mvenkat/home-automation-hub/internal/state"
	"github.com/mvenkat/home-automation-hub/internal/upstream"
)

var validate = validator.New()

// Refresher triggers the fire-and-forget refresh of all location-dependent
// sources after a location change.
type Refresher interface {
	RefreshAll()
}

// LiveFetcher is the synchronous live-observation fetch the prediction path
// awaits.
type LiveFetcher interface {
	FetchLiveFor(ctx context.Context, city string) (json.RawMessage, error)
}

// Deps bundles everything the HTTP handlers touch.
type Deps struct {
	Store     *state.Store
	Hub       *hub.Hub
	Geo       *upstream.OpenWeatherClient
	Devices   *device.Proxy
	Predictor *predict.Bridge
	Live      LiveFetcher
	Refresh   Refresher
	Log       *zap.Logger
}

// RegisterRoutes wires the HTTP and websocket handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	api := app.Group("/api")

	api.Post("/location", d.handleSetLocation)
	api.Post("/suggestion", d.handleSuggestion)
	api.Post("/reverselocation", d.handleReverseLocation)
	api.Post("/geolocation", d.handleGeolocation)
	api.Post("/relay", d.handleRelay)
	api.Post("/predict", d.handlePredict)

	api.Get("/status", d.handleStatus)
	api.Get("/history", d.handleHistory)
	api.Get("/forecast", d.handleForecast)
	api.Get("/astronomy", d.handleAstronomy)
	api.Get("/aqi", d.handleAQI)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(d.handleWS))
}

type locationRequest struct {
	ID   string  `json:"id" validate:"required"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// handleSetLocation atomically replaces the active location and kicks off a
// refresh of every location-dependent source. The response confirms the
// change was accepted, not that fresh data has arrived.
func (d Deps) handleSetLocation(c *fiber.Ctx) error {
	var req locationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.ID == "" {
		req.ID = req.Name
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid city name")
	}

	loc := state.Location{Name: req.ID, Lat: req.Lat, Lon: req.Lon}
	d.Store.SetLocation(loc)
	d.Log.Info("active location changed", zap.String("city", loc.Name),
		zap.Float64("lat", loc.Lat), zap.Float64("lon", loc.Lon))

	d.Refresh.RefreshAll()

	return c.JSON(fiber.Map{
		"success":     true,
		"currentCity": loc.Name,
		"latitude":    loc.Lat,
		"longitude":   loc.Lon,
	})
}

type suggestionRequest struct {
	ID string `json:"id" validate:"required"`
}

func (d Deps) handleSuggestion(c *fiber.Ctx) error {
	var req suggestionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid city query")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid city query")
	}

	places, err := d.Geo.GeocodeDirect(c.Context(), req.ID, 5)
	if err != nil {
		d.Log.Warn("suggestion lookup failed", zap.String("query", req.ID), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch suggestions")
	}
	return c.JSON(places)
}

type coordsRequest struct {
	Lat *float64 `json:"lat" validate:"required"`
	Lon *float64 `json:"lon" validate:"required"`
}

func (d Deps) handleReverseLocation(c *fiber.Ctx) error {
	var req coordsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "latitude and longitude required")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "latitude and longitude required")
	}

	places, err := d.Geo.GeocodeReverse(c.Context(), *req.Lat, *req.Lon)
	if err != nil {
		d.Log.Warn("reverse geocode failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch location from coordinates")
	}
	if len(places) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no city found for the coordinates")
	}
	return c.JSON(places[0])
}

type geolocationRequest struct {
	Location string `json:"location" validate:"required"`
}

func (d Deps) handleGeolocation(c *fiber.Ctx) error {
	var req geolocationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "location required")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "location required")
	}

	places, err := d.Geo.GeocodeDirect(c.Context(), req.Location, 1)
	if err != nil {
		d.Log.Warn("geocode failed", zap.String("location", req.Location), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to resolve location")
	}
	if len(places) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no city found for the location")
	}
	return c.JSON(places[0])
}

type relayRequest struct {
	ID int `json:"id"`
}

func (d Deps) handleRelay(c *fiber.Ctx) error {
	var req relayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid relay id")
	}

	if err := d.Devices.ToggleRelay(c.Context(), req.ID); err != nil {
		if errors.Is(err, device.ErrInvalidRelay) {
			return fiber.NewError(fiber.StatusBadRequest, "invalid relay id")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}

type predictRequest struct {
	City  string `json:"city" validate:"required"`
	Hours int    `json:"hours"`
}

// handlePredict selects the city, synchronously fetches one live observation
// for it, formats the row and forwards it to the prediction service.
func (d Deps) handlePredict(c *fiber.Ctx) error {
	var req predictRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "city is required for prediction")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "city is required for prediction")
	}

	d.Store.SetCity(req.City)

	raw, err := d.Live.FetchLiveFor(c.Context(), req.City)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not fetch live weather data for prediction")
	}

	obs, err := predict.FormatObservation(raw)
	if err != nil {
		d.Log.Warn("live observation formatting failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to format live weather data")
	}

	result, err := d.Predictor.Predict(c.Context(), obs, req.Hours)
	if err != nil {
		d.Log.Warn("prediction request failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to get predictions")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(result)
}

func (d Deps) handleStatus(c *fiber.Ctx) error {
	weather, ok := d.Store.Snapshot(state.SourceWeather)
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "weather data not available")
	}

	dev, ok := d.Store.Device()
	if !ok {
		dev = state.DefaultDeviceState()
	}

	return c.JSON(fiber.Map{
		"weather": weather.Payload,
		"device":  dev,
	})
}

func (d Deps) handleHistory(c *fiber.Ctx) error {
	return c.JSON(d.Store.History())
}

func (d Deps) handleForecast(c *fiber.Ctx) error {
	snap, ok := d.Store.Snapshot(state.SourceForecast)
	if !ok {
		return fiber.NewError(fiber.StatusServiceUnavailable, "forecast not ready")
	}

	var payload struct {
		List json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(snap.Payload, &payload); err != nil || payload.List == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "forecast not ready")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(payload.List)
}

func (d Deps) handleAstronomy(c *fiber.Ctx) error {
	snap, ok := d.Store.Snapshot(state.SourceAstronomy)
	if !ok {
		return fiber.NewError(fiber.StatusServiceUnavailable, "astronomy not ready")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(snap.Payload)
}

func (d Deps) handleAQI(c *fiber.Ctx) error {
	snap, ok := d.Store.Snapshot(state.SourceAirQuality)
	if !ok {
		return fiber.NewError(fiber.StatusServiceUnavailable, "aqi not ready")
	}

	var payload struct {
		List []struct {
			Main struct {
				AQI int `json:"aqi"`
			} `json:"main"`
		} `json:"list"`
	}
	if err := json.Unmarshal(snap.Payload, &payload); err != nil || len(payload.List) == 0 {
		return fiber.NewError(fiber.StatusServiceUnavailable, "aqi not ready")
	}

	return c.JSON(fiber.Map{"aqi": payload.List[0].Main.AQI})
}

// handleWS registers the connection with the hub, sends the welcome message
// and, when both weather and device snapshots exist, one combined snapshot.
// The read loop only watches for disconnect; clients never send commands over
// the socket.
func (d Deps) handleWS(conn *websocket.Conn) {
	id := d.Hub.Register(conn)
	defer d.Hub.Unregister(id)

	if err := d.greet(id); err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// greet sends the welcome message and, iff both the weather and device
// snapshots are present, one combined snapshot of them.
func (d Deps) greet(id string) error {
	if err := d.Hub.SendTo(id, fiber.Map{"type": "welcome", "msg": "hello client"}); err != nil {
		return err
	}

	weather, wok := d.Store.Snapshot(state.SourceWeather)
	dev, dok := d.Store.Device()
	if !wok || !dok {
		return nil
	}
	return d.Hub.SendTo(id, fiber.Map{"weather": weather.Payload, "device": dev})
}
