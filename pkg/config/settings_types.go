package config

import "errors"

const (
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Settings models the full contents of .taskdeck/config.{yaml,toml}.
// Optional booleans use *bool so nil means "unset" and lower layers apply.
type Settings struct {
	Storage   *StorageConfig   `json:"storage,omitempty" yaml:"storage,omitempty" toml:"storage,omitempty"`       // Where the task list is persisted.
	Telemetry *TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty" toml:"telemetry,omitempty"` // OpenTelemetry trace export.
	UI        *UIConfig        `json:"ui,omitempty" yaml:"ui,omitempty" toml:"ui,omitempty"`                      // Terminal UI tweaks.
	Hooks     *HooksConfig     `json:"hooks,omitempty" yaml:"hooks,omitempty" toml:"hooks,omitempty"`             // Shell commands run on task events.
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty" toml:"backend,omitempty"` // "file" or "memory".
	Dir     string `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`             // Data directory for the file backend; relative to the project root.
	Key     string `json:"key,omitempty" yaml:"key,omitempty" toml:"key,omitempty"`             // Storage key holding the task list.
}

// TelemetryConfig controls OTLP/HTTP trace export.
type TelemetryConfig struct {
	Enabled     *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"` // host:port of the collector.
	Insecure    *bool  `json:"insecure,omitempty" yaml:"insecure,omitempty" toml:"insecure,omitempty"` // Plain HTTP instead of TLS.
	ServiceName string `json:"serviceName,omitempty" yaml:"serviceName,omitempty" toml:"serviceName,omitempty"`
}

// UIConfig tunes the terminal UI.
type UIConfig struct {
	Title     string `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`
	ShowStats *bool  `json:"showStats,omitempty" yaml:"showStats,omitempty" toml:"showStats,omitempty"`
}

// HooksConfig maps a task-text matcher ("*" or a regexp) to a shell command
// for each event. Commands receive the event as JSON on stdin.
type HooksConfig struct {
	TasksLoaded      map[string]string `json:"TasksLoaded,omitempty" yaml:"TasksLoaded,omitempty" toml:"TasksLoaded,omitempty"`
	TaskAdded        map[string]string `json:"TaskAdded,omitempty" yaml:"TaskAdded,omitempty" toml:"TaskAdded,omitempty"`
	TaskToggled      map[string]string `json:"TaskToggled,omitempty" yaml:"TaskToggled,omitempty" toml:"TaskToggled,omitempty"`
	TaskRemoved      map[string]string `json:"TaskRemoved,omitempty" yaml:"TaskRemoved,omitempty" toml:"TaskRemoved,omitempty"`
	CompletedCleared map[string]string `json:"CompletedCleared,omitempty" yaml:"CompletedCleared,omitempty" toml:"CompletedCleared,omitempty"`
	PersistFailed    map[string]string `json:"PersistFailed,omitempty" yaml:"PersistFailed,omitempty" toml:"PersistFailed,omitempty"`
	Timeout          string            `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"` // Per-command budget, e.g. "10s".
}

// ByEvent returns the configured matcher->command maps keyed by event name.
func (h *HooksConfig) ByEvent() map[string]map[string]string {
	if h == nil {
		return nil
	}
	out := map[string]map[string]string{}
	add := func(name string, m map[string]string) {
		if len(m) > 0 {
			out[name] = m
		}
	}
	add("TasksLoaded", h.TasksLoaded)
	add("TaskAdded", h.TaskAdded)
	add("TaskToggled", h.TaskToggled)
	add("TaskRemoved", h.TaskRemoved)
	add("CompletedCleared", h.CompletedCleared)
	add("PersistFailed", h.PersistFailed)
	return out
}

// GetDefaultSettings returns the built-in defaults.
func GetDefaultSettings() Settings {
	return Settings{
		Storage: &StorageConfig{
			Backend: BackendFile,
			Dir:     defaultDataDir,
			Key:     "todos",
		},
		Telemetry: &TelemetryConfig{
			Enabled:     boolPtr(false),
			Endpoint:    "localhost:4318",
			Insecure:    boolPtr(true),
			ServiceName: "taskdeck",
		},
		UI: &UIConfig{
			Title:     "ToDo App",
			ShowStats: boolPtr(true),
		},
	}
}

// Validate delegates to the aggregated validator.
func (s *Settings) Validate() error { return ValidateSettings(s) }

// Validate checks backend, directory and key.
func (s *StorageConfig) Validate() error { return errors.Join(validateStorageConfig(s)...) }

// TelemetryEnabled reports whether trace export is switched on.
func (s *Settings) TelemetryEnabled() bool {
	return s != nil && s.Telemetry != nil && s.Telemetry.Enabled != nil && *s.Telemetry.Enabled
}

// ShowStats reports whether the stats footer is rendered.
func (s *Settings) ShowStats() bool {
	if s == nil || s.UI == nil || s.UI.ShowStats == nil {
		return true
	}
	return *s.UI.ShowStats
}

// boolPtr helps encode optional booleans.
func boolPtr(v bool) *bool { return &v }
