// Package dio exposes the digital I/O port boundary: synchronous reads and
// writes of a binary line, settled-edge change notification and release on
// shutdown. One implementation drives the kernel sysfs GPIO interface, one is
// an in-memory line for tests and bench simulation.
package dio

import "errors"

var (
	ErrLineClosed = errors.New("dio: line closed")
	ErrReadOnly   = errors.New("dio: line is input only")
)

// WatchFunc is invoked once per settled edge with the new value. err is
// non-nil when the underlying read failed; value is undefined in that case.
type WatchFunc func(err error, value int)

// Line is a single binary I/O line.
type Line interface {
	// ReadSync returns the current value, 0 or 1.
	ReadSync() (int, error)
	// WriteSync drives the line to 0 or 1.
	WriteSync(value int) error
	// Watch registers fn to be called on every settled value change.
	Watch(fn WatchFunc)
	// Unexport releases the line. Safe to call more than once and during
	// shutdown.
	Unexport() error
}
