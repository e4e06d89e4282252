package config

import (
	"os"
	"strconv"
)

// Environment variables that override file settings.
const (
	EnvPort        = "SCENEWATCH_PORT"
	EnvCamera      = "CAMERA_DEVICE"
	EnvDetectorURL = "DETECTOR_URL"
	EnvMQTTBroker  = "MQTT_BROKER"
	EnvLogLevel    = "LOG_LEVEL"
)

// Env returns the value of key, or def when unset or empty.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvInt returns key parsed as an int, or def when unset or malformed.
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// ApplyEnv overrides cfg with any set environment variables.
func ApplyEnv(cfg *Config) {
	if port := EnvInt(EnvPort, 0); port > 0 {
		cfg.HTTP.Addr = ":" + strconv.Itoa(port)
	}
	cfg.Camera.Device = Env(EnvCamera, cfg.Camera.Device)
	if url := os.Getenv(EnvDetectorURL); url != "" {
		cfg.Detector.Backend = BackendRemote
		cfg.Detector.URL = url
	}
	cfg.MQTT.Broker = Env(EnvMQTTBroker, cfg.MQTT.Broker)
	cfg.Log.Level = Env(EnvLogLevel, cfg.Log.Level)
}
