package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mvenkat/home-automation-hub/internal/device"
	"github.com/mvenkat/home-automation-hub/internal/hub"
	"github.com/mvenkat/home-automation-hub/internal/predict"
	"github.com/mvenkat/home-automation-hub/internal/state"
	"github.com/mvenkat/home-automation-hub/internal/upstream"
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRefresher) RefreshAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLiveFetcher struct {
	payload json.RawMessage
	err     error
	city    string
}

func (f *fakeLiveFetcher) FetchLiveFor(ctx context.Context, city string) (json.RawMessage, error) {
	f.city = city
	return f.payload, f.err
}

type fakeConn struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.msgs = append(f.msgs, cp)
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }
func (f *fakeConn) Close() error                       { return nil }

func (f *fakeConn) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.msgs))
	copy(out, f.msgs)
	return out
}

type testEnv struct {
	app     *fiber.App
	deps    Deps
	store   *state.Store
	refresh *fakeRefresher
	live    *fakeLiveFetcher
}

// newTestEnv builds the app with the same centralized error handler the
// process uses, so error bodies are {"error": msg} JSON.
func newTestEnv(t *testing.T, deviceURL, geoURL, predictorURL string) *testEnv {
	t.Helper()

	store := state.NewStore(0)
	h := hub.New(zap.NewNop())
	client := &http.Client{Timeout: time.Second}

	owm := upstream.NewOpenWeatherClient(client, "test-key")
	if geoURL != "" {
		owm.SetBaseURLs(geoURL, geoURL)
	}

	refresh := &fakeRefresher{}
	live := &fakeLiveFetcher{}

	d := Deps{
		Store:     store,
		Hub:       h,
		Geo:       owm,
		Devices:   device.NewProxy(client, deviceURL, store, h, zap.NewNop()),
		Predictor: predict.NewBridge(client, predictorURL),
		Live:      live,
		Refresh:   refresh,
		Log:       zap.NewNop(),
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	RegisterRoutes(app, d)

	return &testEnv{app: app, deps: d, store: store, refresh: refresh, live: live}
}

func postJSON(t *testing.T, app *fiber.App, path string, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func getPath(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func TestForecastNotReadyThenReady(t *testing.T) {
	env := newTestEnv(t, "", "", "")

	resp := getPath(t, env.app, "/api/forecast")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d before any fetch, want 503", resp.StatusCode)
	}

	env.store.SetSnapshot(state.SourceForecast, []byte(`{"list":[{"dt":1},{"dt":2}]}`))

	resp = getPath(t, env.app, "/api/forecast")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d after fetch, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `[{"dt":1},{"dt":2}]` {
		t.Errorf("body = %s, want the cached list", body)
	}
}

func TestAstronomyNotReadyThenReady(t *testing.T) {
	env := newTestEnv(t, "", "", "")

	if resp := getPath(t, env.app, "/api/astronomy"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}

	env.store.SetSnapshot(state.SourceAstronomy, []byte(`{"astronomy":{"astro":{"moon_phase":"Full Moon"}}}`))

	resp := getPath(t, env.app, "/api/astronomy")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAQIExtraction(t *testing.T) {
	env := newTestEnv(t, "", "", "")

	if resp := getPath(t, env.app, "/api/aqi"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}

	env.store.SetSnapshot(state.SourceAirQuality, []byte(`{"list":[{"main":{"aqi":3}}]}`))

	resp := getPath(t, env.app, "/api/aqi")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		AQI int `json:"aqi"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.AQI != 3 {
		t.Errorf("aqi = %d, want 3", out.AQI)
	}
}

func TestStatusRequiresWeather(t *testing.T) {
	env := newTestEnv(t, "", "", "")

	if resp := getPath(t, env.app, "/api/status"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d without weather, want 400", resp.StatusCode)
	}

	env.store.SetSnapshot(state.SourceWeather, []byte(`{"main":{"temp":20}}`))

	resp := getPath(t, env.app, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Weather json.RawMessage   `json:"weather"`
		Device  state.DeviceState `json:"device"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Weather == nil {
		t.Error("weather missing from status response")
	}
	// No device contact yet: defaults.
	if out.Device != state.DefaultDeviceState() {
		t.Errorf("device = %+v, want all-off default", out.Device)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t, "", "", "")
	env.store.AppendHistory(state.HistoryPoint{TS: 1, Temp: 20, Humidity: 50})
	env.store.AppendHistory(state.HistoryPoint{TS: 2, Temp: 21, Humidity: 51})

	resp := getPath(t, env.app, "/api/history")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var points []state.HistoryPoint
	if err := json.NewDecoder(resp.Body).Decode(&points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 2 || points[0].TS != 1 || points[1].TS != 2 {
		t.Errorf("points = %+v, want ordered pair", points)
	}
}

func TestSetLocationValidatesAndRefreshes(t *testing.T) {
	env := newTestEnv(t, "", "", "")

	resp := postJSON(t, env.app, "/api/location", `{"lat":1,"lon":2}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d for missing id, want 400", resp.StatusCode)
	}
	if env.refresh.count() != 0 {
		t.Error("refresh triggered by invalid request")
	}

	resp = postJSON(t, env.app, "/api/location", `{"id":"Paris","lat":48.85,"lon":2.35}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Success     bool    `json:"success"`
		CurrentCity string  `json:"currentCity"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.CurrentCity != "Paris" || out.Latitude != 48.85 {
		t.Errorf("response = %+v", out)
	}

	if got := env.store.Location(); got.Name != "Paris" || got.Lat != 48.85 || got.Lon != 2.35 {
		t.Errorf("stored location = %+v", got)
	}
	if env.refresh.count() != 1 {
		t.Errorf("refresh called %d times, want 1", env.refresh.count())
	}

	// A second change wins wholesale.
	postJSON(t, env.app, "/api/location", `{"id":"Berlin","lat":52.52,"lon":13.40}`)
	if got := env.store.Location(); got.Name != "Berlin" || got.Lat != 52.52 {
		t.Errorf("stored location after second change = %+v", got)
	}
}

func TestRelayRejectsBadID(t *testing.T) {
	called := false
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer dev.Close()

	env := newTestEnv(t, dev.URL, "", "")

	for _, body := range []string{`{"id":0}`, `{"id":8}`, `{}`} {
		resp := postJSON(t, env.app, "/api/relay", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d for %s, want 400", resp.StatusCode, body)
		}
	}
	if called {
		t.Error("invalid relay id reached the device")
	}
}

func TestRelayToggleSuccess(t *testing.T) {
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			_, _ = w.Write([]byte(`{"relay1":0,"relay2":1,"relay3":0,"relay4":0,"relay5":0,"relay6":0,"relay7":0,"temp":null}`))
		}
	}))
	defer dev.Close()

	env := newTestEnv(t, dev.URL, "", "")

	resp := postJSON(t, env.app, "/api/relay", `{"id":2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success {
		t.Error("success = false")
	}

	st, ok := env.store.Device()
	if !ok || st.Relay2 != 1 {
		t.Errorf("stored device state = %+v", st)
	}
}

func TestRelayDeviceUnreachable(t *testing.T) {
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer dev.Close()

	env := newTestEnv(t, dev.URL, "", "")

	resp := postJSON(t, env.app, "/api/relay", `{"id":2}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestSuggestionEndpoint(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/direct" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"name":"Paris","country":"FR","lat":48.85,"lon":2.35}]`))
	}))
	defer geo.Close()

	env := newTestEnv(t, "", geo.URL, "")

	resp := postJSON(t, env.app, "/api/suggestion", `{"id":"Par"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var places []upstream.GeoPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(places) != 1 || places[0].Name != "Paris" {
		t.Errorf("places = %+v", places)
	}

	if resp := postJSON(t, env.app, "/api/suggestion", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d for empty query, want 400", resp.StatusCode)
	}
}

func TestReverseLocationValidation(t *testing.T) {
	env := newTestEnv(t, "", "", "")

	if resp := postJSON(t, env.app, "/api/reverselocation", `{"lat":48.85}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d for missing lon, want 400", resp.StatusCode)
	}
}

func TestPredictEndpoint(t *testing.T) {
	predictor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"hour":1,"temp":28.1}]`))
	}))
	defer predictor.Close()

	env := newTestEnv(t, "", "", predictor.URL)
	env.live.payload = json.RawMessage(`{
		"location": {"name": "Madrid", "localtime": "2026-08-28 14:05"},
		"current": {"temp_c": 30.2, "dewpoint_c": 12.1, "humidity": 34, "precip_mm": 0,
			"wind_degree": 180, "wind_kph": 11.2, "pressure_mb": 1015,
			"condition": {"text": "Sunny"}}
	}`)

	if resp := postJSON(t, env.app, "/api/predict", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d without city, want 400", resp.StatusCode)
	}

	resp := postJSON(t, env.app, "/api/predict", `{"city":"Madrid","hours":3}`)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 200 (body: %s)", resp.StatusCode, body)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `[{"hour":1,"temp":28.1}]` {
		t.Errorf("body = %s, want the predictor response verbatim", body)
	}

	if env.live.city != "Madrid" {
		t.Errorf("live fetch city = %q, want Madrid", env.live.city)
	}
	if got := env.store.Location().Name; got != "Madrid" {
		t.Errorf("active city = %q, want Madrid", got)
	}
}

func TestPredictLiveFetchFailureSkipsPredictor(t *testing.T) {
	predictorCalled := false
	predictor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		predictorCalled = true
	}))
	defer predictor.Close()

	env := newTestEnv(t, "", "", predictor.URL)
	env.live.err = errors.New("upstream down")

	resp := postJSON(t, env.app, "/api/predict", `{"city":"Madrid"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if predictorCalled {
		t.Error("predictor contacted despite live fetch failure")
	}
}

func TestGreetSendsWelcomeOnly(t *testing.T) {
	env := newTestEnv(t, "", "", "")
	env.store.SetSnapshot(state.SourceWeather, []byte(`{"main":{"temp":20}}`))
	// device state intentionally absent

	conn := &fakeConn{}
	id := env.deps.Hub.Register(conn)

	if err := env.deps.greet(id); err != nil {
		t.Fatalf("greet: %v", err)
	}

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("received %d messages, want only the welcome", len(msgs))
	}
	var welcome struct {
		Type string `json:"type"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(msgs[0], &welcome); err != nil {
		t.Fatalf("unmarshal welcome: %v", err)
	}
	if welcome.Type != "welcome" {
		t.Errorf("first message type = %q, want welcome", welcome.Type)
	}
}

func TestGreetSendsCombinedSnapshot(t *testing.T) {
	env := newTestEnv(t, "", "", "")
	env.store.SetSnapshot(state.SourceWeather, []byte(`{"main":{"temp":20}}`))
	env.store.SetDevice(state.DeviceState{Relay1: 1})

	conn := &fakeConn{}
	id := env.deps.Hub.Register(conn)

	if err := env.deps.greet(id); err != nil {
		t.Fatalf("greet: %v", err)
	}

	msgs := conn.messages()
	if len(msgs) != 2 {
		t.Fatalf("received %d messages, want welcome + combined snapshot", len(msgs))
	}
	var combined struct {
		Weather json.RawMessage   `json:"weather"`
		Device  state.DeviceState `json:"device"`
	}
	if err := json.Unmarshal(msgs[1], &combined); err != nil {
		t.Fatalf("unmarshal combined snapshot: %v", err)
	}
	if combined.Weather == nil || combined.Device.Relay1 != 1 {
		t.Errorf("combined snapshot = %+v", combined)
	}
}
