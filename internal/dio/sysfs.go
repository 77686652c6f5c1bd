package dio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Direction of a sysfs line.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// SysfsLine drives one GPIO line through the kernel sysfs interface. Change
// notification is implemented by polling the value file and debouncing; the
// watch callback fires once per settled edge.
type SysfsLine struct {
	pin  int
	root string
	dir  Direction

	pollInterval time.Duration
	debounce     time.Duration

	mu       sync.Mutex
	watchers []WatchFunc
	stop     chan struct{}
	closed   bool
}

// SysfsOptions tune a sysfs line.
type SysfsOptions struct {
	// Root is the sysfs gpio directory, "/sys/class/gpio" by default.
	Root string
	// ChipBasePath is the descriptor used to resolve the chip base offset.
	ChipBasePath string
	// PollInterval for the watch loop, 10ms by default.
	PollInterval time.Duration
	// Debounce stability window for watch callbacks, 20ms by default.
	Debounce time.Duration
}

// OpenSysfsLine exports logical pin with the given direction and returns the
// line. The kernel line number is pin offset by the controller chip base.
func OpenSysfsLine(pin int, dir Direction, opts SysfsOptions) (*SysfsLine, error) {
	if opts.Root == "" {
		opts.Root = "/sys/class/gpio"
	}
	if opts.ChipBasePath == "" {
		opts.ChipBasePath = DefaultChipBasePath
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 20 * time.Millisecond
	}

	l := &SysfsLine{
		pin:          pin + ChipBase(opts.ChipBasePath),
		root:         opts.Root,
		dir:          dir,
		pollInterval: opts.PollInterval,
		debounce:     opts.Debounce,
		stop:         make(chan struct{}),
	}

	if err := l.export(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(l.path("direction"), []byte(dir), 0o644); err != nil {
		return nil, fmt.Errorf("dio: set direction pin %d: %w", l.pin, err)
	}
	if dir == Out {
		// start de-energized
		if err := l.WriteSync(0); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *SysfsLine) export() error {
	if _, err := os.Stat(l.path("value")); err == nil {
		return nil // already exported
	}
	exportPath := filepath.Join(l.root, "export")
	if err := os.WriteFile(exportPath, []byte(strconv.Itoa(l.pin)), 0o644); err != nil {
		return fmt.Errorf("dio: export pin %d: %w", l.pin, err)
	}
	return nil
}

func (l *SysfsLine) path(name string) string {
	return filepath.Join(l.root, fmt.Sprintf("gpio%d", l.pin), name)
}

// ReadSync returns the current line value.
func (l *SysfsLine) ReadSync() (int, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return 0, ErrLineClosed
	}
	data, err := os.ReadFile(l.path("value"))
	if err != nil {
		return 0, fmt.Errorf("dio: read pin %d: %w", l.pin, err)
	}
	if strings.TrimSpace(string(data)) == "0" {
		return 0, nil
	}
	return 1, nil
}

// WriteSync drives the line.
func (l *SysfsLine) WriteSync(value int) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrLineClosed
	}
	if l.dir != Out {
		return ErrReadOnly
	}
	v := "0"
	if value != 0 {
		v = "1"
	}
	if err := os.WriteFile(l.path("value"), []byte(v), 0o644); err != nil {
		return fmt.Errorf("dio: write pin %d: %w", l.pin, err)
	}
	return nil
}

// Watch registers fn for settled edges. The poll loop starts on the first
// registration.
func (l *SysfsLine) Watch(fn WatchFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	start := len(l.watchers) == 0
	l.watchers = append(l.watchers, fn)
	if start {
		go l.pollLoop()
	}
}

func (l *SysfsLine) pollLoop() {
	deb := NewDebouncer(l.debounce)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	var lastErr bool
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			raw, err := l.ReadSync()
			if err != nil {
				if !lastErr {
					lastErr = true
					l.notify(err, 0)
				}
				continue
			}
			lastErr = false
			if v, changed := deb.Update(raw, now); changed {
				l.notify(nil, v)
			}
		}
	}
}

func (l *SysfsLine) notify(err error, value int) {
	l.mu.Lock()
	watchers := make([]WatchFunc, len(l.watchers))
	copy(watchers, l.watchers)
	l.mu.Unlock()
	for _, fn := range watchers {
		fn(err, value)
	}
}

// Unexport de-energizes an output line, stops the watch loop and releases
// the pin. Idempotent.
func (l *SysfsLine) Unexport() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.stop)
	l.mu.Unlock()

	if l.dir == Out {
		// best effort: leave the actuator de-energized
		_ = os.WriteFile(l.path("value"), []byte("0"), 0o644)
	}
	unexportPath := filepath.Join(l.root, "unexport")
	if err := os.WriteFile(unexportPath, []byte(strconv.Itoa(l.pin)), 0o644); err != nil {
		return fmt.Errorf("dio: unexport pin %d: %w", l.pin, err)
	}
	return nil
}
