// Package cycle implements the fixed-tick control loop that sequences the
// entry sensor, piston and riser through one sorting cycle. The machine owns
// all cycle state; acquisition and analysis happen elsewhere and report back
// through Complete and Invalidate.
package cycle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"defect-sorter/internal/dio"
)

// Config holds the machine's fixed timing parameters. Piston and riser hold
// durations are settings-driven and supplied through SetDurations.
type Config struct {
	// TickInterval is the loop period (informational; the caller drives
	// Tick).
	TickInterval time.Duration
	// ActivationThreshold is how long the sensor must stay active before
	// the piston extends.
	ActivationThreshold time.Duration
	// SettleDelay is the pause after piston retraction before the device
	// check.
	SettleDelay time.Duration
	// SensorDebounce is the stability window applied to raw sensor reads.
	SensorDebounce time.Duration
}

// DefaultConfig returns the standard loop timing.
func DefaultConfig() Config {
	return Config{
		TickInterval:        50 * time.Millisecond,
		ActivationThreshold: 150 * time.Millisecond,
		SettleDelay:         200 * time.Millisecond,
		SensorDebounce:      30 * time.Millisecond,
	}
}

// Hooks externalize the machine's observable effects. Nil hooks are skipped.
// Hooks run on the tick goroutine and must not block.
type Hooks struct {
	// OnReadyForCapture fires exactly once per cycle when the piece is in
	// position.
	OnReadyForCapture func()
	// OnStateChange fires on every transition.
	OnStateChange func(prev, next State)
	// OnSensorEdge fires once per settled sensor change.
	OnSensorEdge func(active bool)
	// OnProcessing fires when the busy flag toggles.
	OnProcessing func(active bool)
	// OnAlert fires for warnings and errors (device disconnected,
	// hardware I/O failures, invalidation).
	OnAlert func(warning bool, msg string)
	// OnActuator fires when the piston or riser changes state.
	OnActuator func(name string, energized bool)
}

// Machine is the tick-driven cycle state machine. Tick is the single writer
// of cycle state; Complete and Invalidate only record a signal that the next
// tick consumes.
type Machine struct {
	cfg    Config
	sensor dio.Line
	piston dio.Line
	riser  dio.Line

	// connected returns the latest device connectivity status. It must be
	// non-blocking; the health monitor refreshes it on its own interval.
	connected func() bool

	hooks Hooks
	log   zerolog.Logger

	mu        sync.Mutex
	state     State
	cycle     CycleState
	deb       *dio.Debouncer
	sensorOn  bool
	pistonOn  bool
	riserOn   bool
	pistonDur time.Duration
	riserDur  time.Duration

	pendingComplete bool
	completeOK      bool
	pendingInvalid  string
}

// NewMachine wires the machine to its lines and connectivity source.
func NewMachine(cfg Config, sensor, piston, riser dio.Line, connected func() bool, hooks Hooks, log zerolog.Logger) *Machine {
	if cfg.TickInterval <= 0 {
		cfg = DefaultConfig()
	}
	if connected == nil {
		connected = func() bool { return true }
	}
	return &Machine{
		cfg:       cfg,
		sensor:    sensor,
		piston:    piston,
		riser:     riser,
		connected: connected,
		hooks:     hooks,
		log:       log.With().Str("component", "cycle").Logger(),
		state:     Idle,
		deb:       dio.NewDebouncer(cfg.SensorDebounce),
		pistonDur: 400 * time.Millisecond,
		riserDur:  600 * time.Millisecond,
	}
}

// SetDurations updates the piston and riser hold durations, normally from a
// settings snapshot.
func (m *Machine) SetDurations(piston, riser time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if piston > 0 {
		m.pistonDur = piston
	}
	if riser > 0 {
		m.riserDur = riser
	}
}

// Current returns the machine state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Cycle returns a copy of the in-progress cycle state.
func (m *Machine) Cycle() CycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycle
}

// Complete reports the outcome of the capture/analysis/ejection pipeline for
// the cycle waiting in ReadyForCapture. A failed cycle is invalidated rather
// than left pending.
func (m *Machine) Complete(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingComplete = true
	m.completeOK = success
}

// Invalidate aborts the in-progress cycle on the next tick. It takes
// priority over any in-progress timer.
func (m *Machine) Invalidate(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingInvalid = reason
}

// Tick advances the machine once. The caller invokes it on a fixed period
// with the current time; tests drive it with a synthetic clock.
func (m *Machine) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.sensor.ReadSync()
	if err != nil {
		m.alert(false, "sensor read failed: "+err.Error())
		m.invalidate(now, "hardware I/O error")
		return
	}
	settled, changed := m.deb.Update(raw, now)
	active := settled == 1
	if changed {
		m.sensorOn = active
		if m.hooks.OnSensorEdge != nil {
			m.hooks.OnSensorEdge(active)
		}
		m.log.Debug().Bool("active", active).Msg("sensor edge")
	}

	// external signals take priority over timers
	if m.pendingInvalid != "" {
		reason := m.pendingInvalid
		m.pendingInvalid = ""
		if m.state != Idle {
			m.invalidate(now, reason)
			return
		}
	}
	if m.pendingComplete {
		ok := m.pendingComplete && m.completeOK
		m.pendingComplete = false
		if m.state == ReadyForCapture {
			if ok {
				m.transition(Resetting)
			} else {
				m.invalidate(now, "cycle failed")
			}
			return
		}
	}

	switch m.state {
	case Idle:
		if changed && active {
			m.cycle = CycleState{SensorActiveAt: now, Valid: true}
			m.setProcessing(true)
			m.transition(SensorEngaged)
		}

	case SensorEngaged:
		if !m.sensorOn {
			// piece gone before the sequence started
			m.reset(now)
			return
		}
		if now.Sub(m.cycle.SensorActiveAt) >= m.cfg.ActivationThreshold {
			if !m.setPiston(now, true) {
				return
			}
			m.cycle.PistonActiveAt = now
			m.transition(PistonExtending)
		}

	case PistonExtending:
		// the sequence completes on its own timers; sensor deactivation
		// alone never aborts here
		if !m.sensorOn && now.Sub(m.cycle.PistonActiveAt) >= m.pistonDur {
			if !m.setPiston(now, false) {
				return
			}
			m.cycle.PistonRetractAt = now
			m.transition(PistonRetracting)
		}

	case PistonRetracting:
		if now.Sub(m.cycle.PistonRetractAt) >= m.cfg.SettleDelay {
			m.transition(DeviceCheck)
		}

	case DeviceCheck:
		if !m.connected() {
			m.alert(true, "imaging device disconnected")
			m.invalidate(now, "device disconnected")
			return
		}
		if !m.setRiser(now, true) {
			return
		}
		m.cycle.RiserActiveAt = now
		m.transition(RiserExtending)

	case RiserExtending:
		if now.Sub(m.cycle.RiserActiveAt) >= m.riserDur {
			m.transition(ReadyForCapture)
			if m.hooks.OnReadyForCapture != nil {
				m.hooks.OnReadyForCapture()
			}
		}

	case ReadyForCapture:
		// waiting for Complete/Invalidate from the orchestrator

	case Resetting:
		m.reset(now)

	case Invalidated:
		m.reset(now)
	}
}

// setPiston drives the piston line; a write failure invalidates the cycle.
func (m *Machine) setPiston(now time.Time, on bool) bool {
	v := 0
	if on {
		v = 1
	}
	if err := m.piston.WriteSync(v); err != nil {
		m.alert(false, "piston write failed: "+err.Error())
		m.invalidate(now, "hardware I/O error")
		return false
	}
	if m.pistonOn != on {
		m.pistonOn = on
		if m.hooks.OnActuator != nil {
			m.hooks.OnActuator("piston", on)
		}
	}
	return true
}

func (m *Machine) setRiser(now time.Time, on bool) bool {
	v := 0
	if on {
		v = 1
	}
	if err := m.riser.WriteSync(v); err != nil {
		m.alert(false, "riser write failed: "+err.Error())
		m.invalidate(now, "hardware I/O error")
		return false
	}
	if m.riserOn != on {
		m.riserOn = on
		if m.hooks.OnActuator != nil {
			m.hooks.OnActuator("riser", on)
		}
	}
	return true
}

// invalidate forces both actuators de-energized and parks the machine in
// Invalidated; the next tick completes the reset to Idle.
func (m *Machine) invalidate(now time.Time, reason string) {
	_ = now
	if err := m.piston.WriteSync(0); err == nil && m.pistonOn {
		m.pistonOn = false
		if m.hooks.OnActuator != nil {
			m.hooks.OnActuator("piston", false)
		}
	}
	if err := m.riser.WriteSync(0); err == nil && m.riserOn {
		m.riserOn = false
		if m.hooks.OnActuator != nil {
			m.hooks.OnActuator("riser", false)
		}
	}
	m.log.Warn().Str("reason", reason).Str("from", m.state.String()).Msg("cycle invalidated")
	m.transition(Invalidated)
}

// reset clears cycle state and returns to Idle through Resetting.
func (m *Machine) reset(now time.Time) {
	_ = now
	m.setPistonQuiet(false)
	m.setRiserQuiet(false)
	if m.state != Resetting && m.state != Invalidated {
		m.transition(Resetting)
	}
	m.cycle = CycleState{}
	m.setProcessing(false)
	m.transition(Idle)
}

func (m *Machine) setPistonQuiet(on bool) {
	v := 0
	if on {
		v = 1
	}
	if err := m.piston.WriteSync(v); err == nil && m.pistonOn != on {
		m.pistonOn = on
		if m.hooks.OnActuator != nil {
			m.hooks.OnActuator("piston", on)
		}
	}
}

func (m *Machine) setRiserQuiet(on bool) {
	v := 0
	if on {
		v = 1
	}
	if err := m.riser.WriteSync(v); err == nil && m.riserOn != on {
		m.riserOn = on
		if m.hooks.OnActuator != nil {
			m.hooks.OnActuator("riser", on)
		}
	}
}

func (m *Machine) setProcessing(active bool) {
	if m.hooks.OnProcessing != nil {
		m.hooks.OnProcessing(active)
	}
}

func (m *Machine) alert(warning bool, msg string) {
	if m.hooks.OnAlert != nil {
		m.hooks.OnAlert(warning, msg)
	}
	evt := m.log.Error()
	if warning {
		evt = m.log.Warn()
	}
	evt.Msg(msg)
}

func (m *Machine) transition(next State) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next
	m.log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("state transition")
	if m.hooks.OnStateChange != nil {
		m.hooks.OnStateChange(prev, next)
	}
}
