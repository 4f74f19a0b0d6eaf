package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/mvenkat/home-automation-hub/internal/device"
	"github.com/mvenkat/home-automation-hub/internal/poll"
)

// Job tags, also used to trigger on-demand runs.
const (
	tagWeather    = "weather"
	tagForecast   = "forecast"
	tagAstronomy  = "astronomy"
	tagAirQuality = "aqi"
	tagLive       = "live"
	tagDevice     = "device"
)

const fetchTimeout = 30 * time.Second

// Intervals holds the per-source cadences.
type Intervals struct {
	Weather    time.Duration
	Forecast   time.Duration
	Astronomy  time.Duration
	AirQuality time.Duration
	Live       time.Duration
	Device     time.Duration
}

// Scheduler runs every fetcher on its own independent cadence. Jobs run in
// singleton mode: a new tick never starts while the previous invocation of
// the same source is still outstanding, while different sources stay
// concurrent.
type Scheduler struct {
	scheduler *gocron.Scheduler
	poller    *poll.Poller
	devices   *device.Proxy
	intervals Intervals
	log       *zap.Logger
}

func New(poller *poll.Poller, devices *device.Proxy, intervals Intervals, log *zap.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		poller:    poller,
		devices:   devices,
		intervals: intervals,
		log:       log,
	}
}

// Start registers all periodic jobs and starts the scheduler. Every source
// also runs once immediately so the store populates at boot.
func (s *Scheduler) Start() error {
	jobs := []struct {
		tag      string
		interval time.Duration
		run      func(context.Context) error
	}{
		{tagWeather, s.intervals.Weather, s.poller.FetchWeather},
		{tagForecast, s.intervals.Forecast, s.poller.FetchForecast},
		{tagAstronomy, s.intervals.Astronomy, s.poller.FetchAstronomy},
		{tagAirQuality, s.intervals.AirQuality, s.poller.FetchAirQuality},
		{tagLive, s.intervals.Live, s.poller.FetchLive},
	}

	for _, j := range jobs {
		run := j.run
		_, err := s.scheduler.Every(j.interval).
			SingletonMode().
			Tag(j.tag).
			StartImmediately().
			Do(func() {
				ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
				defer cancel()
				// Failures are logged by the poller; the next tick retries.
				_ = run(ctx)
			})
		if err != nil {
			return err
		}
	}

	_, err := s.scheduler.Every(s.intervals.Device).
		SingletonMode().
		Tag(tagDevice).
		StartImmediately().
		Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
			defer cancel()
			s.devices.RefreshStatus(ctx)
		})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RefreshAll triggers the location-dependent fetchers immediately without
// waiting for completion. Callers get eventual consistency: fresh data
// arrives through the broadcast hub, not through this call.
func (s *Scheduler) RefreshAll() {
	for _, tag := range []string{tagWeather, tagForecast, tagAstronomy, tagAirQuality} {
		if err := s.scheduler.RunByTag(tag); err != nil {
			s.log.Warn("on-demand refresh failed to start", zap.String("source", tag), zap.Error(err))
		}
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
