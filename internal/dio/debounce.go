package dio

import "time"

// Debouncer suppresses rapid toggles of a raw binary signal. A new raw value
// must be confirmed by consecutive agreeing samples spanning the stability
// window before it becomes the settled value; until then the previous settled
// value is reported. A single isolated observation never starts the window,
// so chatter followed by a sampling gap cannot settle early.
type Debouncer struct {
	window time.Duration

	settled   int
	candidate int
	since     time.Time
	anchored  bool
}

// NewDebouncer returns a debouncer with the given stability window. The
// settled value starts at 0 (inactive). A zero window passes raw values
// through unfiltered.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Update feeds one raw sample and returns the settled value along with
// whether the settled value changed on this sample.
func (d *Debouncer) Update(raw int, now time.Time) (value int, changed bool) {
	if raw != 0 {
		raw = 1
	}
	if raw == d.settled {
		// signal returned to the settled value, drop any pending candidate
		d.candidate = d.settled
		d.anchored = false
		return d.settled, false
	}
	if d.window <= 0 {
		d.settled = raw
		d.candidate = raw
		return d.settled, true
	}

	if raw != d.candidate {
		// first sight of a new candidate; the window starts when the next
		// sample confirms it
		d.candidate = raw
		d.anchored = false
		return d.settled, false
	}
	if !d.anchored {
		d.anchored = true
		d.since = now
		return d.settled, false
	}
	if now.Sub(d.since) >= d.window {
		d.settled = d.candidate
		d.anchored = false
		return d.settled, true
	}
	return d.settled, false
}

// Value returns the current settled value.
func (d *Debouncer) Value() int { return d.settled }
