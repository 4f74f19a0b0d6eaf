package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mvenkat/home-automation-hub/internal/hub"
	"github.com/mvenkat/home-automation-hub/internal/observability"
	"github.com/mvenkat/home-automation-hub/internal/state"
)

// ErrInvalidRelay is returned for relay ids outside 1..7. No command is sent.
var ErrInvalidRelay = errors.New("invalid relay id")

// ErrUnreachable covers any failed exchange with the relay controller.
var ErrUnreachable = errors.New("device unreachable")

const relayCount = 7

// Proxy validates and forwards relay commands to the ESP8266 controller and
// keeps the stored device state in sync with its status endpoint.
type Proxy struct {
	baseURL string
	client  *http.Client
	store   *state.Store
	hub     *hub.Hub
	log     *zap.Logger
}

func NewProxy(client *http.Client, baseURL string, store *state.Store, h *hub.Hub, log *zap.Logger) *Proxy {
	return &Proxy{
		baseURL: baseURL,
		client:  client,
		store:   store,
		hub:     h,
		log:     log,
	}
}

// ToggleRelay flips one relay and refreshes the stored device state from the
// controller's status endpoint. On any network failure the previous state is
// preserved; the relay may still have physically toggled if only the
// follow-up status query failed.
func (p *Proxy) ToggleRelay(ctx context.Context, id int) error {
	if id < 1 || id > relayCount {
		observability.RelayCommandsTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %d", ErrInvalidRelay, id)
	}

	if err := p.sendToggle(ctx, id); err != nil {
		observability.RelayCommandsTotal.WithLabelValues("error").Inc()
		p.log.Warn("relay command failed", zap.Int("relay", id), zap.Error(err))
		return err
	}

	st, err := p.fetchStatus(ctx)
	if err != nil {
		observability.RelayCommandsTotal.WithLabelValues("error").Inc()
		p.log.Warn("status query after relay command failed", zap.Int("relay", id), zap.Error(err))
		return err
	}

	p.store.SetDevice(st)
	p.hub.Publish("device", st)
	observability.RelayCommandsTotal.WithLabelValues("success").Inc()
	p.log.Info("relay toggled", zap.Int("relay", id))
	return nil
}

// RefreshStatus queries the controller's status endpoint. Unlike the command
// path this is a liveness probe: when the device is unreachable the stored
// state falls back to the all-off/unknown default instead of going stale.
func (p *Proxy) RefreshStatus(ctx context.Context) {
	st, err := p.fetchStatus(ctx)
	if err != nil {
		p.log.Warn("device status probe failed", zap.Error(err))
		p.store.SetDevice(state.DefaultDeviceState())
		return
	}
	p.store.SetDevice(st)
	p.hub.Publish("device", st)
}

func (p *Proxy) sendToggle(ctx context.Context, id int) error {
	url := fmt.Sprintf("%s/relay?id=%d", p.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: relay endpoint returned %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func (p *Proxy) fetchStatus(ctx context.Context) (state.DeviceState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/status", nil)
	if err != nil {
		return state.DeviceState{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return state.DeviceState{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return state.DeviceState{}, fmt.Errorf("%w: status endpoint returned %d", ErrUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return state.DeviceState{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var st state.DeviceState
	if err := json.Unmarshal(body, &st); err != nil {
		return state.DeviceState{}, fmt.Errorf("%w: malformed status payload: %v", ErrUnreachable, err)
	}
	return st, nil
}
