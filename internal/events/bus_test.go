package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	var mu sync.Mutex
	got := make(map[int]int)
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		idx := i
		wg.Add(1)
		bus.Subscribe(func(ev any) {
			mu.Lock()
			got[idx]++
			if got[idx] == 1 {
				wg.Done()
			}
			mu.Unlock()
		})
	}

	bus.Publish(SystemLog{Timestamp: time.Now(), Message: "hello"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for delivery, got=%v", got)
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(func(any) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Alert{Type: AlertInfo, Message: "n"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
	close(block)
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	cancel := bus.Subscribe(func(any) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(SystemLog{Message: "one"})
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		c := count
		mu.Unlock()
		if c == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first event not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	cancel() // idempotent
	bus.Publish(SystemLog{Message: "two"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected 1 delivery after unsubscribe, got %d", count)
	}
}
