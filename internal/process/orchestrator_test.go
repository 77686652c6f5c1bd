package process

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"defect-sorter/internal/camera"
	"defect-sorter/internal/config"
	"defect-sorter/internal/cycle"
	"defect-sorter/internal/dio"
	"defect-sorter/internal/events"
	"defect-sorter/internal/state"
	"defect-sorter/internal/vision"
)

var jpegPayload = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 64)...)

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type fakeDevice struct {
	mu         sync.Mutex
	serial     int
	files      []camera.RemoteFile
	triggerErr error
}

func (d *fakeDevice) Connected(ctx context.Context) bool { return true }

func (d *fakeDevice) StoragePath(ctx context.Context) (string, error) {
	return "/sdcard/DCIM/Camera", nil
}

func (d *fakeDevice) TriggerShutter(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.triggerErr != nil {
		return d.triggerErr
	}
	d.serial++
	d.files = append(d.files, camera.RemoteFile{
		Name:    fmt.Sprintf("IMG_%04d.jpg", d.serial),
		ModTime: time.Unix(int64(1700000000+d.serial), 0),
		Size:    int64(len(jpegPayload)),
	})
	return nil
}

func (d *fakeDevice) ListFiles(ctx context.Context, dir string) ([]camera.RemoteFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]camera.RemoteFile, len(d.files))
	copy(out, d.files)
	return out, nil
}

func (d *fakeDevice) PullFile(ctx context.Context, remote, local string) error {
	return writeFile(local, jpegPayload)
}

type fakeClassifier struct {
	mu     sync.Mutex
	result *vision.Result
	err    error
}

func (c *fakeClassifier) Analyze(ctx context.Context, imagePath string) (*vision.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

type testRig struct {
	o       *Orchestrator
	sensor  *dio.MemLine
	ejector *dio.MemLine
	dev     *fakeDevice
	cls     *fakeClassifier
	bus     *events.Bus
	st      *state.Manager

	mu      sync.Mutex
	byType  map[string][]any
	now     time.Time
	step    time.Duration
	cleanup func()
}

func newRig(t *testing.T) *testRig {
	t.Helper()

	r := &testRig{
		sensor:  dio.NewMemLine(),
		ejector: dio.NewMemLine(),
		dev:     &fakeDevice{},
		cls:     &fakeClassifier{result: &vision.Result{}},
		bus:     events.NewBus(64),
		byType:  map[string][]any{},
		now:     time.Unix(2000, 0),
		step:    10 * time.Millisecond,
	}
	r.st = state.NewManager(r.bus)

	unsub := r.bus.Subscribe(func(ev any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		key := fmt.Sprintf("%T", ev)
		r.byType[key] = append(r.byType[key], ev)
	})

	store, err := config.NewStore(filepath.Join(t.TempDir(), "settings.toml"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctrl := camera.NewController(r.dev, camera.ControllerConfig{
		LocalDir:         t.TempDir(),
		PollInterval:     time.Millisecond,
		Timeout:          500 * time.Millisecond,
		MinFileSize:      4,
		StrictValidation: true,
		MaxAttempts:      2,
		RetryDelay:       5 * time.Millisecond,
	}, zerolog.Nop())

	r.o = New(Deps{
		Store:      store,
		Capture:    ctrl,
		Classifier: r.cls,
		Bus:        r.bus,
		State:      r.st,
		Sensor:     r.sensor,
		Piston:     dio.NewMemLine(),
		Riser:      dio.NewMemLine(),
		Ejector:    r.ejector,
		MachineConfig: cycle.Config{
			TickInterval:        10 * time.Millisecond,
			ActivationThreshold: 30 * time.Millisecond,
			SettleDelay:         20 * time.Millisecond,
		},
		Log: zerolog.Nop(),
	})

	// short pulses and hold durations keep the test quick
	ms20 := 20
	if _, err := r.o.UpdateSettings(config.SettingsPatch{Global: &config.GlobalPatch{
		EjectionDurationMS: &ms20,
		PistonDurationMS:   &ms20,
		RiserDurationMS:    &ms20,
	}}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	r.cleanup = func() {
		r.o.Close()
		unsub()
		r.bus.Close()
	}
	return r
}

// runCycle drives one piece through the machine and waits for the pipeline
// to complete and the machine to return to Idle.
func (r *testRig) runCycle(t *testing.T) {
	t.Helper()
	r.sensor.Set(1)
	deadline := time.Now().Add(5 * time.Second)
	dropped := false
	for time.Now().Before(deadline) {
		r.now = r.now.Add(r.step)
		r.o.Tick(r.now)
		cur := r.o.Machine().Current()
		if !dropped && cur == cycle.PistonExtending {
			r.sensor.Set(0)
			dropped = true
		}
		if dropped && cur == cycle.Idle {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("cycle never completed, machine in %v", r.o.Machine().Current())
}

func (r *testRig) eventsOf(key string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.byType[key]))
	copy(out, r.byType[key])
	return out
}

// waitEvent polls until at least n events of the given type arrived.
func (r *testRig) waitEvent(t *testing.T, key string, n int) []any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := r.eventsOf(key); len(evs) >= n {
			return evs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("event %s never arrived", key)
	return nil
}

func TestFullCycleEjectsDefectivePiece(t *testing.T) {
	r := newRig(t)
	defer r.cleanup()

	r.cls.result = &vision.Result{
		ProcessingTime: 0.05,
		Predictions: []vision.Prediction{
			{BBox: vision.BBox{X1: 10, Y1: 10, X2: 60, Y2: 60}, ClassName: "crack", Confidence: 0.9},
		},
	}

	r.runCycle(t)

	evs := r.waitEvent(t, "events.EjectionResult", 1)
	res := evs[0].(events.EjectionResult)
	if !res.Ejected {
		t.Fatalf("verdict = %+v, want ejected", res)
	}
	r.waitEvent(t, "events.ImageCaptured", 1)
	r.waitEvent(t, "events.AnalysisComplete", 1)

	// ejector pulsed on then released
	sawOn := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, w := range r.ejector.Writes() {
			if w == 1 {
				sawOn = true
			}
		}
		if sawOn && r.ejector.Value() == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !sawOn {
		t.Fatalf("ejector never energized: %v", r.ejector.Writes())
	}
	if r.ejector.Value() != 0 {
		t.Fatalf("ejector still energized after the pulse")
	}

	snap := r.st.Snapshot()
	if snap.LastEjection == nil || !snap.LastEjection.Ejected {
		t.Fatalf("state missing ejection result: %+v", snap)
	}
	if snap.LastPhotoPath == "" {
		t.Fatalf("state missing photo path")
	}

	sum := r.o.Summary()
	if sum.CyclesCompleted != 1 || sum.Ejections != 1 || sum.Passes != 0 {
		t.Fatalf("summary = %+v", sum)
	}

	path := filepath.Join(t.TempDir(), "run_summary.json")
	if err := r.o.WriteSummary(path); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var decoded Summary
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("summary not JSON: %v", err)
	}
	if decoded.Ejections != 1 {
		t.Fatalf("persisted summary = %+v", decoded)
	}
}

func TestMachineStaysLockedWhileEjectorEnergized(t *testing.T) {
	r := newRig(t)
	defer r.cleanup()

	// a long pulse widens the window the machine must sit out
	ms80 := 80
	if _, err := r.o.UpdateSettings(config.SettingsPatch{Global: &config.GlobalPatch{
		EjectionDurationMS: &ms80,
	}}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	r.cls.result = &vision.Result{
		Predictions: []vision.Prediction{
			{BBox: vision.BBox{X1: 10, Y1: 10, X2: 60, Y2: 60}, ClassName: "crack", Confidence: 0.9},
		},
	}

	r.sensor.Set(1)
	dropped := false
	sawPulse := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.now = r.now.Add(r.step)
		r.o.Tick(r.now)
		cur := r.o.Machine().Current()
		if !dropped && cur == cycle.PistonExtending {
			r.sensor.Set(0)
			dropped = true
		}
		if r.ejector.Value() == 1 {
			sawPulse = true
			if cur == cycle.Idle {
				t.Fatalf("machine idle while ejector still energized")
			}
		}
		if sawPulse && cur == cycle.Idle {
			if r.ejector.Value() != 0 {
				t.Fatalf("reached idle with ejector energized")
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("cycle never completed, machine in %v", r.o.Machine().Current())
}

func TestCycleMilestonesPublishLogLines(t *testing.T) {
	r := newRig(t)
	defer r.cleanup()

	r.cls.result = &vision.Result{
		Predictions: []vision.Prediction{
			{BBox: vision.BBox{X1: 10, Y1: 10, X2: 60, Y2: 60}, ClassName: "crack", Confidence: 0.9},
		},
	}

	r.runCycle(t)

	logs := r.waitEvent(t, "events.SystemLog", 5)
	seen := map[string]bool{}
	for _, ev := range logs {
		seen[ev.(events.SystemLog).Message] = true
	}
	for _, want := range []string{"piece detected", "image captured", "analysis complete", "piece ejected", "cycle complete"} {
		if !seen[want] {
			t.Fatalf("missing %q log line, got %v", want, seen)
		}
	}
}

func TestFullCyclePassesCleanPiece(t *testing.T) {
	r := newRig(t)
	defer r.cleanup()

	// below the confidence bar for every class
	r.cls.result = &vision.Result{
		Predictions: []vision.Prediction{
			{BBox: vision.BBox{X1: 10, Y1: 10, X2: 20, Y2: 20}, ClassName: "knot", Confidence: 0.1},
		},
	}

	r.runCycle(t)

	evs := r.waitEvent(t, "events.EjectionResult", 1)
	res := evs[0].(events.EjectionResult)
	if res.Ejected {
		t.Fatalf("clean piece ejected: %+v", res)
	}
	for _, w := range r.ejector.Writes() {
		if w == 1 {
			t.Fatalf("ejector energized for a passed piece")
		}
	}
}

func TestCaptureFailureInvalidatesCycle(t *testing.T) {
	r := newRig(t)
	defer r.cleanup()
	r.dev.triggerErr = fmt.Errorf("device wedged")

	r.runCycle(t)

	found := false
	for _, ev := range r.waitEvent(t, "events.Alert", 1) {
		a := ev.(events.Alert)
		if a.Type == events.AlertError {
			found = true
		}
	}
	if !found {
		t.Fatalf("no error alert for failed capture")
	}
	if evs := r.eventsOf("events.EjectionResult"); len(evs) != 0 {
		t.Fatalf("verdict published for a failed capture: %v", evs)
	}
	for _, w := range r.ejector.Writes() {
		if w == 1 {
			t.Fatalf("ejector energized without a verdict")
		}
	}
}

func TestAnalysisFailureInvalidatesCycle(t *testing.T) {
	r := newRig(t)
	defer r.cleanup()
	r.cls.err = fmt.Errorf("service unavailable")

	r.runCycle(t)

	r.waitEvent(t, "events.ImageCaptured", 1)
	if evs := r.eventsOf("events.EjectionResult"); len(evs) != 0 {
		t.Fatalf("verdict published after failed analysis: %v", evs)
	}
}

func TestSettingsUpdateBroadcastsAndPersists(t *testing.T) {
	r := newRig(t)
	defer r.cleanup()

	maxDefects := 1
	applied, err := r.o.UpdateSettings(config.SettingsPatch{Global: &config.GlobalPatch{
		MaxDefectsBeforeEject: &maxDefects,
	}})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if applied.Global.MaxDefectsBeforeEject != 1 {
		t.Fatalf("patch not applied: %+v", applied.Global)
	}
	r.waitEvent(t, "events.SettingsChanged", 2) // one from newRig, one here

	if _, err := r.o.ApplyPreset("nope"); err == nil {
		t.Fatalf("unknown preset accepted")
	}
	if _, err := r.o.ApplyPreset("strict"); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	if got := r.o.Settings().Global.MaxDefectsBeforeEject; got != 1 {
		t.Fatalf("strict preset maxDefects = %d, want 1", got)
	}
}

func TestRejectedSettingsLeaveStateUntouched(t *testing.T) {
	r := newRig(t)
	defer r.cleanup()

	bad := -5
	if _, err := r.o.UpdateSettings(config.SettingsPatch{Global: &config.GlobalPatch{
		PistonDurationMS: &bad,
	}}); err == nil {
		t.Fatalf("negative duration accepted")
	}
	if got := r.o.Settings().Global.PistonDurationMS; got != 20 {
		t.Fatalf("settings mutated by a rejected patch: %d", got)
	}
}
