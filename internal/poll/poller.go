package poll

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/mvenkat/home-automation-hub/internal/hub"
	"github.com/mvenkat/home-automation-hub/internal/observability"
	"github.com/mvenkat/home-automation-hub/internal/state"
	"github.com/mvenkat/home-automation-hub/internal/upstream"
)

// Poller owns one fetch routine per tracked source. Every fetch captures the
// active location once at invocation start, issues a single upstream request,
// and on success replaces the source snapshot and publishes the update. A
// failed fetch leaves the previous snapshot untouched and waits for its next
// scheduled tick.
type Poller struct {
	store *state.Store
	hub   *hub.Hub
	owm   *upstream.OpenWeatherClient
	wapi  *upstream.WeatherAPIClient
	log   *zap.Logger
}

func New(store *state.Store, h *hub.Hub, owm *upstream.OpenWeatherClient, wapi *upstream.WeatherAPIClient, log *zap.Logger) *Poller {
	return &Poller{store: store, hub: h, owm: owm, wapi: wapi, log: log}
}

// commit writes a snapshot and publishes it, unless the active location moved
// away while the fetch was in flight. A stale result is dropped rather than
// allowed to overwrite data for the newer location.
func (p *Poller) commit(kind state.SourceKind, issuedFor state.Location, payload json.RawMessage) bool {
	if cur := p.store.Location(); cur.Name != issuedFor.Name {
		p.log.Info("dropping stale fetch result",
			zap.String("source", string(kind)),
			zap.String("issued_for", issuedFor.Name),
			zap.String("active", cur.Name))
		observability.FetchesTotal.WithLabelValues(string(kind), "stale").Inc()
		return false
	}

	p.store.SetSnapshot(kind, payload)
	p.hub.Publish(string(kind), payload)
	observability.FetchesTotal.WithLabelValues(string(kind), "success").Inc()
	return true
}

func (p *Poller) fail(kind state.SourceKind, loc state.Location, err error) {
	p.log.Warn("fetch failed",
		zap.String("source", string(kind)),
		zap.String("city", loc.Name),
		zap.Error(err))
	observability.FetchesTotal.WithLabelValues(string(kind), "error").Inc()
}

// FetchWeather retrieves the current conditions and records a history point.
func (p *Poller) FetchWeather(ctx context.Context) error {
	loc := p.store.Location()

	raw, obs, err := p.owm.CurrentWeather(ctx, loc.Name)
	if err != nil {
		p.fail(state.SourceWeather, loc, err)
		return err
	}

	if !p.commit(state.SourceWeather, loc, raw) {
		return nil
	}
	p.store.AppendHistory(state.HistoryPoint{
		TS:       time.Now().UnixMilli(),
		Temp:     obs.Temp,
		Humidity: obs.Humidity,
	})
	p.log.Info("weather updated", zap.String("city", loc.Name), zap.Float64("temp_c", obs.Temp))
	return nil
}

// FetchForecast retrieves the multi-day forecast document.
func (p *Poller) FetchForecast(ctx context.Context) error {
	loc := p.store.Location()

	raw, err := p.owm.Forecast(ctx, loc.Name)
	if err != nil {
		p.fail(state.SourceForecast, loc, err)
		return err
	}
	p.commit(state.SourceForecast, loc, raw)
	return nil
}

// FetchAstronomy retrieves sunrise/sunset and moon data for today.
func (p *Poller) FetchAstronomy(ctx context.Context) error {
	loc := p.store.Location()

	raw, err := p.wapi.Astronomy(ctx, loc.Name, time.Now().Format("2006-01-02"))
	if err != nil {
		p.fail(state.SourceAstronomy, loc, err)
		return err
	}
	p.commit(state.SourceAstronomy, loc, raw)
	return nil
}

// FetchAirQuality retrieves the air pollution document for the active
// coordinates.
func (p *Poller) FetchAirQuality(ctx context.Context) error {
	loc := p.store.Location()

	raw, err := p.owm.AirPollution(ctx, loc.Lat, loc.Lon)
	if err != nil {
		p.fail(state.SourceAirQuality, loc, err)
		return err
	}
	p.commit(state.SourceAirQuality, loc, raw)
	return nil
}

// FetchLive retrieves the live observation for the active city.
func (p *Poller) FetchLive(ctx context.Context) error {
	loc := p.store.Location()
	_, err := p.fetchLive(ctx, loc)
	return err
}

// FetchLiveFor retrieves the live observation for an explicit city and
// returns the payload. The prediction path awaits this result instead of
// observing it through the hub.
func (p *Poller) FetchLiveFor(ctx context.Context, city string) (json.RawMessage, error) {
	loc := p.store.Location()
	loc.Name = city
	return p.fetchLive(ctx, loc)
}

func (p *Poller) fetchLive(ctx context.Context, loc state.Location) (json.RawMessage, error) {
	raw, err := p.wapi.Current(ctx, loc.Name)
	if err != nil {
		p.fail(state.SourceLive, loc, err)
		return nil, err
	}
	p.commit(state.SourceLive, loc, raw)
	return raw, nil
}
