package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"defect-sorter/internal/camera"
	"defect-sorter/internal/cycle"
	"defect-sorter/internal/health"
	"defect-sorter/internal/telemetry"
)

// serviceConfig is the full daemon runtime configuration.
type serviceConfig struct {
	SensorPin  int
	PistonPin  int
	RiserPin   int
	EjectorPin int

	ChipBasePath string
	SettingsPath string
	CapturesDir  string
	SummaryPath  string

	ADBSerial string

	ClassifierURL     string
	ClassifierTimeout time.Duration
	HealthURL         string
	HealthInterval    time.Duration

	ListenAddr  string
	CORSOrigins []string

	Machine cycle.Config
	Capture camera.ControllerConfig

	MQTTEnabled bool
	MQTT        telemetry.BrokerConfig
}

func defaultServiceConfig() serviceConfig {
	capCfg := camera.DefaultControllerConfig()
	return serviceConfig{
		SensorPin:         14,
		PistonPin:         15,
		RiserPin:          16,
		EjectorPin:        17,
		SettingsPath:      "settings.toml",
		CapturesDir:       capCfg.LocalDir,
		SummaryPath:       "run_summary.json",
		ClassifierURL:     "http://127.0.0.1:9001/api/analyze",
		ClassifierTimeout: 10 * time.Second,
		HealthInterval:    health.DefaultConfig().Interval,
		ListenAddr:        ":8080",
		Machine:           cycle.DefaultConfig(),
		Capture:           capCfg,
		MQTT: telemetry.BrokerConfig{
			ClientID: "sorterd",
		},
	}
}

type fileConfig struct {
	SensorPin  int `toml:"sensor_pin"`
	PistonPin  int `toml:"piston_pin"`
	RiserPin   int `toml:"riser_pin"`
	EjectorPin int `toml:"ejector_pin"`

	ChipBasePath string `toml:"chip_base_path"`
	SettingsPath string `toml:"settings_path"`
	CapturesDir  string `toml:"captures_dir"`
	SummaryPath  string `toml:"summary_path"`

	ADBSerial string `toml:"adb_serial"`

	ClassifierURL     string `toml:"classifier_url"`
	ClassifierTimeout string `toml:"classifier_timeout"`
	HealthURL         string `toml:"health_url"`
	HealthInterval    string `toml:"health_interval"`

	ListenAddr  string   `toml:"listen_addr"`
	CORSOrigins []string `toml:"cors_origins"`

	TickInterval        string `toml:"tick_interval"`
	ActivationThreshold string `toml:"activation_threshold"`
	SettleDelay         string `toml:"settle_delay"`
	SensorDebounce      string `toml:"sensor_debounce"`

	CaptureTimeout     string `toml:"capture_timeout"`
	CapturePollEvery   string `toml:"capture_poll_interval"`
	CaptureMaxAttempts int    `toml:"capture_max_attempts"`
	CaptureRetryDelay  string `toml:"capture_retry_delay"`
	MinFileSize        int64  `toml:"capture_min_file_size"`
	StrictValidation   bool   `toml:"capture_strict_validation"`

	MQTTBroker   string `toml:"mqtt_broker"`
	MQTTClientID string `toml:"mqtt_client_id"`
	MQTTUsername string `toml:"mqtt_username"`
	MQTTPassword string `toml:"mqtt_password"`
}

// loadServiceConfig overlays the file onto the defaults. Keys absent from
// the file keep their default.
func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load sorterd config: %w", err)
	}

	if meta.IsDefined("sensor_pin") {
		cfg.SensorPin = raw.SensorPin
	}
	if meta.IsDefined("piston_pin") {
		cfg.PistonPin = raw.PistonPin
	}
	if meta.IsDefined("riser_pin") {
		cfg.RiserPin = raw.RiserPin
	}
	if meta.IsDefined("ejector_pin") {
		cfg.EjectorPin = raw.EjectorPin
	}
	if meta.IsDefined("chip_base_path") {
		cfg.ChipBasePath = strings.TrimSpace(raw.ChipBasePath)
	}
	if meta.IsDefined("settings_path") {
		cfg.SettingsPath = strings.TrimSpace(raw.SettingsPath)
	}
	if meta.IsDefined("captures_dir") {
		cfg.CapturesDir = strings.TrimSpace(raw.CapturesDir)
		cfg.Capture.LocalDir = cfg.CapturesDir
	}
	if meta.IsDefined("summary_path") {
		cfg.SummaryPath = strings.TrimSpace(raw.SummaryPath)
	}
	if meta.IsDefined("adb_serial") {
		cfg.ADBSerial = strings.TrimSpace(raw.ADBSerial)
	}
	if meta.IsDefined("classifier_url") {
		cfg.ClassifierURL = strings.TrimSpace(raw.ClassifierURL)
	}
	if meta.IsDefined("classifier_timeout") {
		d, err := parseDuration("classifier_timeout", raw.ClassifierTimeout)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.ClassifierTimeout = d
	}
	if meta.IsDefined("health_url") {
		cfg.HealthURL = strings.TrimSpace(raw.HealthURL)
	}
	if meta.IsDefined("health_interval") {
		d, err := parseDuration("health_interval", raw.HealthInterval)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.HealthInterval = d
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}

	if meta.IsDefined("tick_interval") {
		d, err := parseDuration("tick_interval", raw.TickInterval)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Machine.TickInterval = d
	}
	if meta.IsDefined("activation_threshold") {
		d, err := parseDuration("activation_threshold", raw.ActivationThreshold)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Machine.ActivationThreshold = d
	}
	if meta.IsDefined("settle_delay") {
		d, err := parseDuration("settle_delay", raw.SettleDelay)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Machine.SettleDelay = d
	}
	if meta.IsDefined("sensor_debounce") {
		d, err := parseDuration("sensor_debounce", raw.SensorDebounce)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Machine.SensorDebounce = d
	}

	if meta.IsDefined("capture_timeout") {
		d, err := parseDuration("capture_timeout", raw.CaptureTimeout)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Capture.Timeout = d
	}
	if meta.IsDefined("capture_poll_interval") {
		d, err := parseDuration("capture_poll_interval", raw.CapturePollEvery)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Capture.PollInterval = d
	}
	if meta.IsDefined("capture_max_attempts") {
		cfg.Capture.MaxAttempts = raw.CaptureMaxAttempts
	}
	if meta.IsDefined("capture_retry_delay") {
		d, err := parseDuration("capture_retry_delay", raw.CaptureRetryDelay)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Capture.RetryDelay = d
	}
	if meta.IsDefined("capture_min_file_size") {
		cfg.Capture.MinFileSize = raw.MinFileSize
	}
	if meta.IsDefined("capture_strict_validation") {
		cfg.Capture.StrictValidation = raw.StrictValidation
	}

	if meta.IsDefined("mqtt_broker") {
		cfg.MQTT.Broker = strings.TrimSpace(raw.MQTTBroker)
		cfg.MQTTEnabled = cfg.MQTT.Broker != ""
	}
	if meta.IsDefined("mqtt_client_id") {
		cfg.MQTT.ClientID = strings.TrimSpace(raw.MQTTClientID)
	}
	if meta.IsDefined("mqtt_username") {
		cfg.MQTT.Username = raw.MQTTUsername
	}
	if meta.IsDefined("mqtt_password") {
		cfg.MQTT.Password = raw.MQTTPassword
	}

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
