package state

import (
	"testing"
	"time"

	"defect-sorter/internal/events"
)

func TestMutatePublishesSnapshot(t *testing.T) {
	bus := events.NewBus(8)
	defer bus.Close()

	got := make(chan SystemState, 8)
	unsub := bus.Subscribe(func(ev any) {
		if up, ok := ev.(events.StateUpdate); ok {
			got <- up.State.(SystemState)
		}
	})
	defer unsub()

	m := NewManager(bus)
	m.SetSensor(true)
	m.SetActuator("piston", true)

	deadline := time.After(time.Second)
	var last SystemState
	for i := 0; i < 2; i++ {
		select {
		case last = <-got:
		case <-deadline:
			t.Fatalf("state update %d never arrived", i)
		}
	}
	if !last.SensorActive || !last.PistonActive {
		t.Fatalf("snapshot = %+v, want sensor and piston active", last)
	}
	if last.UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt not stamped")
	}
}

func TestActuatorNames(t *testing.T) {
	m := NewManager(nil)
	m.SetActuator("riser", true)
	m.SetActuator("ejector", true)
	m.SetActuator("bogus", true)

	s := m.Snapshot()
	if !s.RiserActive || !s.EjectorActive {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.PistonActive {
		t.Fatalf("unknown actuator name mutated piston")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewManager(nil)
	m.RecordEjection(events.EjectionResult{Ejected: true, Reason: "maximum defect count reached"})

	a := m.Snapshot()
	a.CycleState = "mangled"
	b := m.Snapshot()
	if b.CycleState != "idle" {
		t.Fatalf("snapshot shares storage with manager")
	}
	if b.LastEjection == nil || !b.LastEjection.Ejected {
		t.Fatalf("ejection result missing: %+v", b)
	}
}
