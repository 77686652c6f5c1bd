package events

import (
	"sync"
	"time"
)

// AlertType classifies an alert for downstream consumers.
type AlertType string

const (
	AlertInfo    AlertType = "info"
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
)

// SystemLog is a free-form process log line for the dashboard boundary.
type SystemLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Alert is an operator-facing notification.
type Alert struct {
	Type      AlertType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// ImageCaptured reports one completed acquisition.
type ImageCaptured struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalysisComplete reports one classified image with its raw predictions.
type AnalysisComplete struct {
	Path           string    `json:"path"`
	Timestamp      time.Time `json:"timestamp"`
	Predictions    any       `json:"predictions"`
	ProcessingTime float64   `json:"processingTime"`
}

// EjectionResult reports the verdict applied to one cycle.
type EjectionResult struct {
	Ejected   bool      `json:"ejected"`
	Reason    string    `json:"reason"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateUpdate carries a full system-state snapshot.
type StateUpdate struct {
	State any `json:"state"`
}

// SettingsChanged carries the settings snapshot after an accepted mutation.
type SettingsChanged struct {
	Settings any `json:"settings"`
}

// Handler receives one published event. Handlers must not block; slow
// consumers fall behind on their own buffer and drop.
type Handler func(ev any)

type subscriber struct {
	ch   chan any
	done chan struct{}
}

// Bus is a typed fire-and-forget fan-out. Publish never blocks the caller:
// each subscriber has a bounded inbox and overflow is dropped.
type Bus struct {
	mu   sync.Mutex
	subs []*subscriber
	size int
}

// NewBus initializes a bus with the given per-subscriber buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{size: buffer}
}

// Subscribe registers a handler and returns an unsubscribe func.
func (b *Bus) Subscribe(h Handler) func() {
	s := &subscriber{
		ch:   make(chan any, b.size),
		done: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case ev := <-s.ch:
				h(ev)
			case <-s.done:
				return
			}
		}
	}()

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			for i, cur := range b.subs {
				if cur == s {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(s.done)
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev any) {
	b.mu.Lock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			// subscriber inbox full, event dropped
		}
	}
}

// Close detaches all subscribers.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		close(s.done)
	}
}
