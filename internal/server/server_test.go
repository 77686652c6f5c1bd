package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"defect-sorter/internal/camera"
	"defect-sorter/internal/config"
	"defect-sorter/internal/cycle"
	"defect-sorter/internal/dio"
	"defect-sorter/internal/events"
	"defect-sorter/internal/process"
	"defect-sorter/internal/state"
	"defect-sorter/internal/vision"
)

type idleDevice struct{}

func (idleDevice) Connected(ctx context.Context) bool              { return true }
func (idleDevice) TriggerShutter(ctx context.Context) error        { return nil }
func (idleDevice) StoragePath(ctx context.Context) (string, error) { return "/sdcard/DCIM", nil }
func (idleDevice) PullFile(ctx context.Context, remote, local string) error {
	return nil
}
func (idleDevice) ListFiles(ctx context.Context, dir string) ([]camera.RemoteFile, error) {
	return nil, nil
}

type idleClassifier struct{}

func (idleClassifier) Analyze(ctx context.Context, imagePath string) (*vision.Result, error) {
	return &vision.Result{}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)

	store, err := config.NewStore(filepath.Join(t.TempDir(), "settings.toml"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	orch := process.New(process.Deps{
		Store:         store,
		Capture:       camera.NewController(idleDevice{}, camera.DefaultControllerConfig(), zerolog.Nop()),
		Classifier:    idleClassifier{},
		Bus:           bus,
		State:         state.NewManager(bus),
		Sensor:        dio.NewMemLine(),
		Piston:        dio.NewMemLine(),
		Riser:         dio.NewMemLine(),
		Ejector:       dio.NewMemLine(),
		MachineConfig: cycle.DefaultConfig(),
		Log:           zerolog.Nop(),
	})
	t.Cleanup(orch.Close)

	return New(Config{Addr: ":0"}, orch, state.NewManager(bus), nil, zerolog.Nop())
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s %s response: %v\n%s", method, path, err, rr.Body.String())
		}
	}
	return rr, decoded
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rr, body := doJSON(t, s, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["status"] != "ok" || body["service"] != "sorterd" {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusCarriesSystemState(t *testing.T) {
	s := newTestServer(t)
	rr, body := doJSON(t, s, http.MethodGet, "/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	st, ok := body["state"].(map[string]any)
	if !ok {
		t.Fatalf("missing state in %v", body)
	}
	if st["cycleState"] != "idle" {
		t.Fatalf("cycleState = %v", st["cycleState"])
	}
}

func TestGetSettings(t *testing.T) {
	s := newTestServer(t)
	rr, body := doJSON(t, s, http.MethodGet, "/settings", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	settings, ok := body["settings"].(map[string]any)
	if !ok {
		t.Fatalf("missing settings: %v", body)
	}
	global := settings["global"].(map[string]any)
	if global["maxDefectsBeforeEject"].(float64) != 5 {
		t.Fatalf("defaults not served: %v", global)
	}
}

func TestPostSettingsPatch(t *testing.T) {
	s := newTestServer(t)
	rr, body := doJSON(t, s, http.MethodPost, "/settings",
		`{"global":{"maxDefectsBeforeEject":2},"classes":{"crack":{"minConfidence":0.8}}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	settings := body["settings"].(map[string]any)
	global := settings["global"].(map[string]any)
	if global["maxDefectsBeforeEject"].(float64) != 2 {
		t.Fatalf("patch not applied: %v", global)
	}
	classes := settings["classes"].(map[string]any)
	crack := classes["crack"].(map[string]any)
	if crack["minConfidence"].(float64) != 0.8 {
		t.Fatalf("class patch not applied: %v", crack)
	}
}

func TestPostSettingsRejectsInvalid(t *testing.T) {
	s := newTestServer(t)
	rr, _ := doJSON(t, s, http.MethodPost, "/settings",
		`{"global":{"pistonDurationMs":-1}}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}

	rr, _ = doJSON(t, s, http.MethodPost, "/settings", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestPresetRoutes(t *testing.T) {
	s := newTestServer(t)
	rr, body := doJSON(t, s, http.MethodPost, "/settings/preset/strict", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", rr.Code, body)
	}
	settings := body["settings"].(map[string]any)
	global := settings["global"].(map[string]any)
	if global["maxDefectsBeforeEject"].(float64) != 1 {
		t.Fatalf("strict preset not applied: %v", global)
	}

	rr, _ = doJSON(t, s, http.MethodPost, "/settings/preset/bogus", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_") && !strings.Contains(rr.Body.String(), "sorter_") {
		t.Fatalf("metrics exposition looks empty")
	}
}
