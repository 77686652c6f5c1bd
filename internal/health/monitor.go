package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"defect-sorter/internal/camera"
	"defect-sorter/internal/events"
)

// Status is the latest probe result. A zero Status means no probe has
// completed yet; both checks report unhealthy until one does.
type Status struct {
	DeviceConnected  bool `json:"deviceConnected"`
	ServiceReachable bool `json:"serviceReachable"`

	DeviceFailures     int       `json:"deviceFailures"`
	ServiceFailures    int       `json:"serviceFailures"`
	DeviceLastSuccess  time.Time `json:"deviceLastSuccess,omitzero"`
	ServiceLastSuccess time.Time `json:"serviceLastSuccess,omitzero"`

	CheckedAt time.Time `json:"checkedAt"`
}

// Config holds monitor tunables.
type Config struct {
	// Interval between probe rounds.
	Interval time.Duration
	// ProbeTimeout bounds one probe round.
	ProbeTimeout time.Duration
	// ServiceURL is the classifier health endpoint. Empty skips the check
	// and reports the service reachable.
	ServiceURL string
}

// DefaultConfig matches the daemon's probe cadence.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Second,
		ProbeTimeout: 3 * time.Second,
	}
}

// Monitor polls the imaging device and the classification service and
// publishes alerts on health transitions. Only the most recent status is
// retained.
type Monitor struct {
	cfg    Config
	device camera.Device
	client *http.Client
	bus    *events.Bus
	log    zerolog.Logger

	// OnStatus, when set before Start, receives every probe result.
	OnStatus func(Status)

	mu      sync.Mutex
	status  Status
	probed  bool
	started bool

	stop chan struct{}
	done chan struct{}
}

// NewMonitor wires a monitor. bus may be nil.
func NewMonitor(cfg Config, device camera.Device, bus *events.Bus, log zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	return &Monitor{
		cfg:    cfg,
		device: device,
		client: &http.Client{Timeout: cfg.ProbeTimeout},
		bus:    bus,
		log:    log.With().Str("component", "health").Logger(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Status returns the latest probe result.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// DeviceConnected reports the latest device probe. It is the connectivity
// source for the cycle machine's device check.
func (m *Monitor) DeviceConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.DeviceConnected
}

// Start launches the probe loop. An immediate round runs before the first
// interval elapses. A second Start is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		m.probe(ctx)
		t := time.NewTicker(m.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.probe(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to exit. Stopping a monitor
// that was never started returns immediately.
func (m *Monitor) Stop() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	if started {
		<-m.done
	}
}

func (m *Monitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	now := time.Now()
	cur := Status{
		DeviceConnected:  m.device != nil && m.device.Connected(pctx),
		ServiceReachable: m.probeService(pctx),
		CheckedAt:        now,
	}

	m.mu.Lock()
	prev := m.status
	first := !m.probed
	m.probed = true

	cur.DeviceLastSuccess = prev.DeviceLastSuccess
	cur.ServiceLastSuccess = prev.ServiceLastSuccess
	if cur.DeviceConnected {
		cur.DeviceLastSuccess = now
	} else {
		cur.DeviceFailures = prev.DeviceFailures + 1
	}
	if cur.ServiceReachable {
		cur.ServiceLastSuccess = now
	} else {
		cur.ServiceFailures = prev.ServiceFailures + 1
	}

	m.status = cur
	m.mu.Unlock()

	if m.OnStatus != nil {
		m.OnStatus(cur)
	}

	if first || prev.DeviceConnected != cur.DeviceConnected {
		m.announce("imaging device", cur.DeviceConnected)
	}
	if first || prev.ServiceReachable != cur.ServiceReachable {
		m.announce("classification service", cur.ServiceReachable)
	}
}

func (m *Monitor) probeService(ctx context.Context) bool {
	if m.cfg.ServiceURL == "" {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ServiceURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (m *Monitor) announce(what string, healthy bool) {
	if healthy {
		m.log.Info().Str("target", what).Msg("health check passed")
		if m.bus != nil {
			m.bus.Publish(events.Alert{
				Type:      events.AlertInfo,
				Timestamp: time.Now(),
				Message:   what + " is reachable",
			})
		}
		return
	}
	m.log.Warn().Str("target", what).Msg("health check failed")
	if m.bus != nil {
		m.bus.Publish(events.Alert{
			Type:      events.AlertWarning,
			Timestamp: time.Now(),
			Message:   what + " is unreachable",
		})
	}
}
