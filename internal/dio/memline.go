package dio

import "sync"

// MemLine is an in-memory Line for tests and simulation. Set drives the
// value from the test side and fires watchers directly; there is no
// debouncing, a MemLine edge is already settled.
type MemLine struct {
	mu       sync.Mutex
	value    int
	closed   bool
	watchers []WatchFunc

	// ReadErr, when set, is returned by ReadSync to simulate hardware
	// faults.
	ReadErr error
	// WriteErr, when set, is returned by WriteSync.
	WriteErr error

	writes []int
}

// NewMemLine returns a line initialized to 0.
func NewMemLine() *MemLine { return &MemLine{} }

func (m *MemLine) ReadSync() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrLineClosed
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	return m.value, nil
}

func (m *MemLine) WriteSync(value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrLineClosed
	}
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if value != 0 {
		value = 1
	}
	m.value = value
	m.writes = append(m.writes, value)
	return nil
}

func (m *MemLine) Watch(fn WatchFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

func (m *MemLine) Unexport() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Set changes the value from the outside (the "hardware" side) and notifies
// watchers when the value actually changed.
func (m *MemLine) Set(value int) {
	if value != 0 {
		value = 1
	}
	m.mu.Lock()
	changed := m.value != value
	m.value = value
	watchers := make([]WatchFunc, len(m.watchers))
	copy(watchers, m.watchers)
	m.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range watchers {
		fn(nil, value)
	}
}

// Value returns the current value without error handling, for assertions.
func (m *MemLine) Value() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Writes returns every value written through WriteSync, in order.
func (m *MemLine) Writes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.writes))
	copy(out, m.writes)
	return out
}

// Closed reports whether Unexport has been called.
func (m *MemLine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
