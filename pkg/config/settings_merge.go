package config

// This file provides pure, allocation-safe merge helpers for Settings.
// All functions return new objects and never mutate inputs.

// MergeSettings deep-merges two Settings structs (lower <- higher) and returns a new instance.
// - Scalars: higher non-zero values override lower.
// - *bool pointers: higher non-nil overrides lower.
// - Nested structs: merged recursively.
func MergeSettings(lower, higher *Settings) *Settings {
	if lower == nil && higher == nil {
		return nil
	}
	if lower == nil {
		return cloneSettings(higher)
	}
	if higher == nil {
		return cloneSettings(lower)
	}

	result := cloneSettings(lower)
	result.Storage = mergeStorage(lower.Storage, higher.Storage)
	result.Telemetry = mergeTelemetry(lower.Telemetry, higher.Telemetry)
	result.UI = mergeUI(lower.UI, higher.UI)
	result.Hooks = mergeHooks(lower.Hooks, higher.Hooks)
	return result
}

func mergeStorage(lower, higher *StorageConfig) *StorageConfig {
	if lower == nil && higher == nil {
		return nil
	}
	if lower == nil {
		return cloneStorage(higher)
	}
	result := cloneStorage(lower)
	if higher == nil {
		return result
	}
	if higher.Backend != "" {
		result.Backend = higher.Backend
	}
	if higher.Dir != "" {
		result.Dir = higher.Dir
	}
	if higher.Key != "" {
		result.Key = higher.Key
	}
	return result
}

func mergeTelemetry(lower, higher *TelemetryConfig) *TelemetryConfig {
	if lower == nil && higher == nil {
		return nil
	}
	if lower == nil {
		return cloneTelemetry(higher)
	}
	result := cloneTelemetry(lower)
	if higher == nil {
		return result
	}
	if higher.Enabled != nil {
		result.Enabled = boolPtr(*higher.Enabled)
	}
	if higher.Endpoint != "" {
		result.Endpoint = higher.Endpoint
	}
	if higher.Insecure != nil {
		result.Insecure = boolPtr(*higher.Insecure)
	}
	if higher.ServiceName != "" {
		result.ServiceName = higher.ServiceName
	}
	return result
}

func mergeUI(lower, higher *UIConfig) *UIConfig {
	if lower == nil && higher == nil {
		return nil
	}
	if lower == nil {
		return cloneUI(higher)
	}
	result := cloneUI(lower)
	if higher == nil {
		return result
	}
	if higher.Title != "" {
		result.Title = higher.Title
	}
	if higher.ShowStats != nil {
		result.ShowStats = boolPtr(*higher.ShowStats)
	}
	return result
}

// mergeHooks merges per event; a higher layer replaces the command for a
// matcher it also defines.
func mergeHooks(lower, higher *HooksConfig) *HooksConfig {
	if lower == nil && higher == nil {
		return nil
	}
	if lower == nil {
		return cloneHooks(higher)
	}
	if higher == nil {
		return cloneHooks(lower)
	}
	out := cloneHooks(lower)
	out.TasksLoaded = mergeMaps(lower.TasksLoaded, higher.TasksLoaded)
	out.TaskAdded = mergeMaps(lower.TaskAdded, higher.TaskAdded)
	out.TaskToggled = mergeMaps(lower.TaskToggled, higher.TaskToggled)
	out.TaskRemoved = mergeMaps(lower.TaskRemoved, higher.TaskRemoved)
	out.CompletedCleared = mergeMaps(lower.CompletedCleared, higher.CompletedCleared)
	out.PersistFailed = mergeMaps(lower.PersistFailed, higher.PersistFailed)
	if higher.Timeout != "" {
		out.Timeout = higher.Timeout
	}
	return out
}

func mergeMaps(lower, higher map[string]string) map[string]string {
	if len(lower) == 0 && len(higher) == 0 {
		return nil
	}
	out := make(map[string]string, len(lower)+len(higher))
	for k, v := range lower {
		out[k] = v
	}
	for k, v := range higher {
		out[k] = v
	}
	return out
}

func cloneSettings(src *Settings) *Settings {
	if src == nil {
		return nil
	}
	return &Settings{
		Storage:   cloneStorage(src.Storage),
		Telemetry: cloneTelemetry(src.Telemetry),
		UI:        cloneUI(src.UI),
		Hooks:     cloneHooks(src.Hooks),
	}
}

func cloneStorage(src *StorageConfig) *StorageConfig {
	if src == nil {
		return nil
	}
	out := *src
	return &out
}

func cloneTelemetry(src *TelemetryConfig) *TelemetryConfig {
	if src == nil {
		return nil
	}
	out := *src
	out.Enabled = cloneBoolPtr(src.Enabled)
	out.Insecure = cloneBoolPtr(src.Insecure)
	return &out
}

func cloneUI(src *UIConfig) *UIConfig {
	if src == nil {
		return nil
	}
	out := *src
	out.ShowStats = cloneBoolPtr(src.ShowStats)
	return &out
}

func cloneBoolPtr(v *bool) *bool {
	if v == nil {
		return nil
	}
	return boolPtr(*v)
}

func cloneHooks(src *HooksConfig) *HooksConfig {
	if src == nil {
		return nil
	}
	out := *src
	out.TasksLoaded = mergeMaps(nil, src.TasksLoaded)
	out.TaskAdded = mergeMaps(nil, src.TaskAdded)
	out.TaskToggled = mergeMaps(nil, src.TaskToggled)
	out.TaskRemoved = mergeMaps(nil, src.TaskRemoved)
	out.CompletedCleared = mergeMaps(nil, src.CompletedCleared)
	out.PersistFailed = mergeMaps(nil, src.PersistFailed)
	return &out
}
