package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sorterd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
sensor_pin = 5
ejector_pin = 9
listen_addr = ":9090"
tick_interval = "25ms"
capture_max_attempts = 5
mqtt_broker = "tcp://10.0.0.2:1883"
mqtt_client_id = "bench-rig"
`)

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SensorPin != 5 {
		t.Fatalf("sensor pin = %d", cfg.SensorPin)
	}
	if cfg.EjectorPin != 9 {
		t.Fatalf("ejector pin = %d", cfg.EjectorPin)
	}
	// untouched keys keep their defaults
	if cfg.PistonPin != 15 || cfg.RiserPin != 16 {
		t.Fatalf("defaults clobbered: piston=%d riser=%d", cfg.PistonPin, cfg.RiserPin)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Machine.TickInterval != 25*time.Millisecond {
		t.Fatalf("tick interval = %v", cfg.Machine.TickInterval)
	}
	if cfg.Machine.ActivationThreshold != 150*time.Millisecond {
		t.Fatalf("activation threshold default lost: %v", cfg.Machine.ActivationThreshold)
	}
	if cfg.Capture.MaxAttempts != 5 {
		t.Fatalf("capture attempts = %d", cfg.Capture.MaxAttempts)
	}
	if !cfg.MQTTEnabled || cfg.MQTT.Broker != "tcp://10.0.0.2:1883" {
		t.Fatalf("mqtt config = %+v enabled=%v", cfg.MQTT, cfg.MQTTEnabled)
	}
	if cfg.MQTT.ClientID != "bench-rig" {
		t.Fatalf("mqtt client id = %q", cfg.MQTT.ClientID)
	}
}

func TestLoadServiceConfigExampleFile(t *testing.T) {
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.SensorPin != 14 || cfg.PistonPin != 15 || cfg.RiserPin != 16 || cfg.EjectorPin != 17 {
		t.Fatalf("pins = %d %d %d %d", cfg.SensorPin, cfg.PistonPin, cfg.RiserPin, cfg.EjectorPin)
	}
	if cfg.Machine.TickInterval != 50*time.Millisecond {
		t.Fatalf("tick interval = %v", cfg.Machine.TickInterval)
	}
	if cfg.MQTTEnabled {
		t.Fatalf("commented mqtt broker enabled telemetry")
	}
}

func TestLoadServiceConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `tick_interval = "fast"`)
	if _, err := loadServiceConfig(path); err == nil {
		t.Fatalf("bad duration accepted")
	}
}
