package process

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"defect-sorter/internal/camera"
	"defect-sorter/internal/config"
	"defect-sorter/internal/cycle"
	"defect-sorter/internal/decide"
	"defect-sorter/internal/dio"
	"defect-sorter/internal/events"
	"defect-sorter/internal/observability"
	"defect-sorter/internal/state"
	"defect-sorter/internal/vision"
)

var ErrShuttingDown = errors.New("process: shutting down")

// Deps bundles everything the orchestrator coordinates. All fields are
// required except Monitor, which defaults to always-connected.
type Deps struct {
	Store      *config.Store
	Capture    *camera.Controller
	Classifier vision.Classifier
	Bus        *events.Bus
	State      *state.Manager
	Monitor    interface{ DeviceConnected() bool }

	Sensor  dio.Line
	Piston  dio.Line
	Riser   dio.Line
	Ejector dio.Line

	MachineConfig cycle.Config
	Log           zerolog.Logger
}

// Orchestrator owns the cycle machine and runs the capture, analysis and
// ejection pipeline whenever a cycle reaches position.
type Orchestrator struct {
	deps    Deps
	machine *cycle.Machine
	log     zerolog.Logger
	started time.Time

	mu         sync.Mutex
	ejectTimer *time.Timer
	closed     bool

	cyclesCompleted   atomic.Int64
	cyclesInvalidated atomic.Int64
	ejections         atomic.Int64
	passes            atomic.Int64
	captureFailures   atomic.Int64
	analysisFailures  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the orchestrator and its cycle machine. The machine starts with
// the persisted actuator durations applied.
func New(deps Deps) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:    deps,
		log:     deps.Log.With().Str("component", "process").Logger(),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}

	connected := func() bool { return true }
	if deps.Monitor != nil {
		connected = deps.Monitor.DeviceConnected
	}

	hooks := cycle.Hooks{
		OnReadyForCapture: o.onReadyForCapture,
		OnStateChange: func(prev, next cycle.State) {
			deps.State.SetCycleState(next.String())
			if next == cycle.Invalidated {
				o.cyclesInvalidated.Add(1)
				observability.RecordCycle("invalidated")
			}
		},
		OnSensorEdge: func(active bool) {
			deps.State.SetSensor(active)
			if active {
				o.sysLog("piece detected", nil)
			}
		},
		OnProcessing: func(active bool) {
			deps.State.SetProcessing(active)
		},
		OnActuator: func(name string, energized bool) {
			deps.State.SetActuator(name, energized)
		},
		OnAlert: o.alert,
	}
	o.machine = cycle.NewMachine(deps.MachineConfig, deps.Sensor, deps.Piston, deps.Riser, connected, hooks, deps.Log)

	// surface sensor read faults to metrics; edges themselves flow through
	// the machine's own debounced read
	deps.Sensor.Watch(func(err error, value int) {
		if err != nil {
			observability.RecordHardwareError("sensor")
		}
	})

	o.applyDurations(deps.Store.Snapshot())
	return o
}

// Machine exposes the cycle machine for the tick driver.
func (o *Orchestrator) Machine() *cycle.Machine { return o.machine }

// Tick advances the cycle machine once.
func (o *Orchestrator) Tick(now time.Time) { o.machine.Tick(now) }

// Settings returns the live settings snapshot.
func (o *Orchestrator) Settings() config.Settings { return o.deps.Store.Snapshot() }

// UpdateSettings validates, persists and applies a settings patch, then
// broadcasts the accepted snapshot.
func (o *Orchestrator) UpdateSettings(patch config.SettingsPatch) (config.Settings, error) {
	applied, err := o.deps.Store.Update(patch)
	if err != nil {
		return config.Settings{}, err
	}
	o.applyDurations(applied)
	o.deps.Bus.Publish(events.SettingsChanged{Settings: applied})
	o.log.Info().Msg("settings updated")
	return applied, nil
}

// ApplyPreset replaces settings with a named preset.
func (o *Orchestrator) ApplyPreset(name string) (config.Settings, error) {
	applied, err := o.deps.Store.ApplyPreset(name)
	if err != nil {
		return config.Settings{}, err
	}
	o.applyDurations(applied)
	o.deps.Bus.Publish(events.SettingsChanged{Settings: applied})
	o.log.Info().Str("preset", name).Msg("preset applied")
	return applied, nil
}

// Close stops in-flight work and releases the I/O lines.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.ejectTimer != nil {
		o.ejectTimer.Stop()
		o.ejectTimer = nil
	}
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()

	// de-energize everything before releasing
	_ = o.deps.Ejector.WriteSync(0)
	for _, l := range []dio.Line{o.deps.Sensor, o.deps.Piston, o.deps.Riser, o.deps.Ejector} {
		if err := l.Unexport(); err != nil {
			o.log.Warn().Err(err).Msg("line release failed")
		}
	}
}

func (o *Orchestrator) applyDurations(s config.Settings) {
	o.machine.SetDurations(
		time.Duration(s.Global.PistonDurationMS)*time.Millisecond,
		time.Duration(s.Global.RiserDurationMS)*time.Millisecond,
	)
}

func (o *Orchestrator) onReadyForCapture() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runPipeline(o.ctx)
	}()
}

// runPipeline executes capture, analysis and the ejection verdict for the
// cycle waiting in position, then reports the outcome back to the machine.
func (o *Orchestrator) runPipeline(ctx context.Context) {
	o.deps.State.SetCapturing(true)
	started := time.Now()
	path, err := o.deps.Capture.CaptureWithRetry(ctx)
	o.deps.State.SetCapturing(false)
	if err != nil {
		o.captureFailures.Add(1)
		observability.RecordCapture("failed", 0)
		o.alert(false, "image capture failed: "+err.Error())
		o.machine.Complete(false)
		return
	}
	observability.RecordCapture("ok", time.Since(started))

	o.deps.State.RecordPhoto(path)
	o.deps.Bus.Publish(events.ImageCaptured{Path: path, Timestamp: time.Now()})
	o.sysLog("image captured", map[string]any{"path": path})
	o.log.Info().Str("path", path).Msg("image captured")

	analysisStart := time.Now()
	result, err := o.deps.Classifier.Analyze(ctx, path)
	if err != nil {
		o.analysisFailures.Add(1)
		o.alert(true, "image analysis failed: "+err.Error())
		o.machine.Complete(false)
		return
	}
	observability.RecordAnalysis(time.Since(analysisStart))
	o.sysLog("analysis complete", map[string]any{"predictions": len(result.Predictions)})
	o.deps.Bus.Publish(events.AnalysisComplete{
		Path:           path,
		Timestamp:      time.Now(),
		Predictions:    result.Predictions,
		ProcessingTime: result.ProcessingTime,
	})

	settings := o.deps.Store.Snapshot()
	verdict := decide.Evaluate(result, settings)

	res := events.EjectionResult{
		Ejected:   verdict.ShouldEject,
		Reason:    verdict.Reason,
		Details:   verdict.Details,
		Timestamp: time.Now(),
	}
	o.deps.State.RecordEjection(res)
	o.deps.Bus.Publish(res)

	if verdict.ShouldEject {
		o.ejections.Add(1)
		observability.RecordEjection(verdict.Reason)
		dur := time.Duration(settings.Global.EjectionDurationMS) * time.Millisecond
		if err := o.pulseEjector(dur, o.completeCycle); err != nil {
			o.alert(false, "ejector write failed: "+err.Error())
			o.machine.Complete(false)
			return
		}
		o.sysLog("piece ejected", map[string]any{"reason": verdict.Reason})
		o.log.Info().Str("reason", verdict.Reason).Msg("piece ejected")
		return
	}

	o.passes.Add(1)
	o.sysLog("piece passed", map[string]any{"reason": verdict.Reason})
	o.log.Info().Str("reason", verdict.Reason).Msg("piece passed")
	o.completeCycle()
}

func (o *Orchestrator) completeCycle() {
	o.cyclesCompleted.Add(1)
	observability.RecordCycle("completed")
	o.sysLog("cycle complete", nil)
	o.machine.Complete(true)
}

func (o *Orchestrator) sysLog(msg string, data map[string]any) {
	o.deps.Bus.Publish(events.SystemLog{Timestamp: time.Now(), Message: msg, Data: data})
}

// postEjectionSettle is the pause between ejector release and reporting the
// cycle complete, giving the piece time to clear the chute.
const postEjectionSettle = 100 * time.Millisecond

// pulseEjector energizes the ejector and schedules the release; done runs
// after the release plus the settle pause, so the machine stays locked out of
// the next cycle while the ejector is energized. A pulse already in flight is
// extended, not doubled.
func (o *Orchestrator) pulseEjector(dur time.Duration, done func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShuttingDown
	}
	if err := o.deps.Ejector.WriteSync(1); err != nil {
		observability.RecordHardwareError("ejector")
		return err
	}
	o.deps.State.SetActuator("ejector", true)
	if o.ejectTimer != nil {
		o.ejectTimer.Stop()
	}
	if dur <= 0 {
		dur = 250 * time.Millisecond
	}
	o.ejectTimer = time.AfterFunc(dur, func() {
		if err := o.deps.Ejector.WriteSync(0); err != nil {
			observability.RecordHardwareError("ejector")
			o.alert(false, "ejector release failed: "+err.Error())
			o.machine.Complete(false)
			return
		}
		o.deps.State.SetActuator("ejector", false)
		o.scheduleSettle(done)
	})
	return nil
}

// scheduleSettle arms the post-ejection pause unless shutdown already began.
func (o *Orchestrator) scheduleSettle(done func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.ejectTimer = time.AfterFunc(postEjectionSettle, done)
}

// Summary is the run accounting written at shutdown.
type Summary struct {
	StartedAt         time.Time `json:"startedAt"`
	UptimeSeconds     float64   `json:"uptimeSeconds"`
	CyclesCompleted   int64     `json:"cyclesCompleted"`
	CyclesInvalidated int64     `json:"cyclesInvalidated"`
	Ejections         int64     `json:"ejections"`
	Passes            int64     `json:"passes"`
	CaptureFailures   int64     `json:"captureFailures"`
	AnalysisFailures  int64     `json:"analysisFailures"`
}

// Summary returns the current run accounting.
func (o *Orchestrator) Summary() Summary {
	return Summary{
		StartedAt:         o.started,
		UptimeSeconds:     time.Since(o.started).Seconds(),
		CyclesCompleted:   o.cyclesCompleted.Load(),
		CyclesInvalidated: o.cyclesInvalidated.Load(),
		Ejections:         o.ejections.Load(),
		Passes:            o.passes.Load(),
		CaptureFailures:   o.captureFailures.Load(),
		AnalysisFailures:  o.analysisFailures.Load(),
	}
}

// WriteSummary persists the run accounting as JSON.
func (o *Orchestrator) WriteSummary(path string) error {
	data, err := json.MarshalIndent(o.Summary(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (o *Orchestrator) alert(warning bool, msg string) {
	typ := events.AlertError
	if warning {
		typ = events.AlertWarning
	}
	o.deps.Bus.Publish(events.Alert{Type: typ, Timestamp: time.Now(), Message: msg})
}
