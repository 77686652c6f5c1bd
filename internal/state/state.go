package state

import (
	"sync"
	"time"

	"defect-sorter/internal/events"
)

// SystemState is the live snapshot exposed to the dashboard boundary. All
// fields describe the machine as of the last mutation.
type SystemState struct {
	SensorActive     bool   `json:"sensorActive"`
	PistonActive     bool   `json:"pistonActive"`
	RiserActive      bool   `json:"riserActive"`
	EjectorActive    bool   `json:"ejectorActive"`
	IsProcessing     bool   `json:"isProcessing"`
	IsCapturing      bool   `json:"isCapturingImage"`
	DeviceConnected  bool   `json:"deviceConnected"`
	ServiceReachable bool   `json:"serviceReachable"`
	CycleState       string `json:"cycleState"`
	LastPhotoPath    string `json:"lastPhotoPath,omitempty"`

	LastEjection *events.EjectionResult `json:"lastEjection,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Manager serializes access to the system state and broadcasts every change
// as a StateUpdate event.
type Manager struct {
	mu  sync.Mutex
	st  SystemState
	bus *events.Bus
	now func() time.Time
}

// NewManager returns a manager publishing onto bus. bus may be nil in tests.
func NewManager(bus *events.Bus) *Manager {
	return &Manager{
		bus: bus,
		now: time.Now,
		st:  SystemState{CycleState: "idle"},
	}
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// Mutate applies fn to the state under the lock and publishes the result.
func (m *Manager) Mutate(fn func(s *SystemState)) {
	m.mu.Lock()
	fn(&m.st)
	m.st.UpdatedAt = m.now()
	snap := m.st
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.StateUpdate{State: snap})
	}
}

// SetSensor records the debounced sensor level.
func (m *Manager) SetSensor(active bool) {
	m.Mutate(func(s *SystemState) { s.SensorActive = active })
}

// SetActuator records one actuator level by name. Unknown names are ignored.
func (m *Manager) SetActuator(name string, active bool) {
	m.Mutate(func(s *SystemState) {
		switch name {
		case "piston":
			s.PistonActive = active
		case "riser":
			s.RiserActive = active
		case "ejector":
			s.EjectorActive = active
		}
	})
}

// SetProcessing records the cycle busy flag.
func (m *Manager) SetProcessing(active bool) {
	m.Mutate(func(s *SystemState) { s.IsProcessing = active })
}

// SetCapturing records the acquisition in-flight flag.
func (m *Manager) SetCapturing(active bool) {
	m.Mutate(func(s *SystemState) { s.IsCapturing = active })
}

// SetCycleState records the machine state name.
func (m *Manager) SetCycleState(name string) {
	m.Mutate(func(s *SystemState) { s.CycleState = name })
}

// SetConnectivity records the device and classifier health probes.
func (m *Manager) SetConnectivity(device, service bool) {
	m.Mutate(func(s *SystemState) {
		s.DeviceConnected = device
		s.ServiceReachable = service
	})
}

// RecordPhoto records the most recent pulled image.
func (m *Manager) RecordPhoto(path string) {
	m.Mutate(func(s *SystemState) { s.LastPhotoPath = path })
}

// RecordEjection records the verdict applied to the last completed cycle.
func (m *Manager) RecordEjection(res events.EjectionResult) {
	m.Mutate(func(s *SystemState) { s.LastEjection = &res })
}
