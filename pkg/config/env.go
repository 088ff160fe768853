package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables recognised by settingsFromEnv.
const (
	EnvBackend      = "TASKDECK_BACKEND"
	EnvDir          = "TASKDECK_DIR"
	EnvKey          = "TASKDECK_KEY"
	EnvTelemetry    = "TASKDECK_TELEMETRY"
	EnvOTLPEndpoint = "TASKDECK_OTLP_ENDPOINT"
)

// settingsFromEnv builds the environment layer. It returns nil when no
// variable is set. Setting an OTLP endpoint implies telemetry is enabled
// unless TASKDECK_TELEMETRY says otherwise.
func settingsFromEnv(getenv func(string) string) (*Settings, error) {
	get := func(name string) string { return strings.TrimSpace(getenv(name)) }

	var s Settings
	set := false

	if v := get(EnvBackend); v != "" {
		s.Storage = ensureStorage(s.Storage)
		s.Storage.Backend = strings.ToLower(v)
		set = true
	}
	if v := get(EnvDir); v != "" {
		s.Storage = ensureStorage(s.Storage)
		s.Storage.Dir = v
		set = true
	}
	if v := get(EnvKey); v != "" {
		s.Storage = ensureStorage(s.Storage)
		s.Storage.Key = v
		set = true
	}
	if v := get(EnvOTLPEndpoint); v != "" {
		s.Telemetry = &TelemetryConfig{Endpoint: v, Enabled: boolPtr(true)}
		set = true
	}
	if v := get(EnvTelemetry); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvTelemetry, err)
		}
		if s.Telemetry == nil {
			s.Telemetry = &TelemetryConfig{}
		}
		s.Telemetry.Enabled = boolPtr(enabled)
		set = true
	}
	if !set {
		return nil, nil
	}
	return &s, nil
}

func ensureStorage(cfg *StorageConfig) *StorageConfig {
	if cfg != nil {
		return cfg
	}
	return &StorageConfig{}
}
