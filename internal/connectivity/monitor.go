// Package connectivity tracks online/offline transitions of the host and
// publishes edge-triggered notifications. It is a pure signal source: no
// retry logic lives here.
package connectivity

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/events"
)

// ProbeFunc reports whether the remote side is reachable right now.
type ProbeFunc func(ctx context.Context) bool

// Monitor holds the current connectivity state. Startup assumes online;
// the first probe or SetOnline call corrects it.
type Monitor struct {
	online   atomic.Bool
	probe    ProbeFunc
	interval time.Duration
	bus      *events.Bus
	logger   zerolog.Logger
}

func NewMonitor(probe ProbeFunc, interval time.Duration, bus *events.Bus, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		probe:    probe,
		interval: interval,
		bus:      bus,
		logger:   logger,
	}
	m.online.Store(true)
	return m
}

// HTTPProbe builds a probe that considers any HTTP response, whatever the
// status, proof of connectivity.
func HTTPProbe(url string) ProbeFunc {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline records the state and publishes only on an actual transition.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	m.logger.Info().Bool("online", online).Msg("connectivity transition")
	_ = m.bus.PublishJSON(events.TopicConnectivityChanged, events.ConnectivityPayload{Online: online})
}

// Start runs the probe loop until ctx is done. The first probe fires
// immediately so a wrong startup assumption is corrected fast. No-op when
// the monitor was built without a probe.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		return
	}

	m.logger.Info().Dur("interval", m.interval).Msg("connectivity monitor started")
	defer m.logger.Info().Msg("connectivity monitor stopped")

	m.SetOnline(m.probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetOnline(m.probe(ctx))
		}
	}
}
