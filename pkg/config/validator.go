package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cexll/taskdeck/pkg/storage"
)

// ValidateSettings checks the merged Settings structure for logical consistency.
// Aggregates all failures using errors.Join so callers can surface every issue at once.
func ValidateSettings(s *Settings) error {
	if s == nil {
		return errors.New("settings is nil")
	}

	var errs []error
	errs = append(errs, validateStorageConfig(s.Storage)...)
	errs = append(errs, validateTelemetryConfig(s.Telemetry)...)
	errs = append(errs, validateHooksConfig(s.Hooks)...)

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func validateStorageConfig(cfg *StorageConfig) []error {
	if cfg == nil {
		return []error{errors.New("storage is required")}
	}
	var errs []error
	backend := strings.TrimSpace(cfg.Backend)
	switch backend {
	case BackendFile:
		if strings.TrimSpace(cfg.Dir) == "" {
			errs = append(errs, errors.New("storage.dir is required for the file backend"))
		}
	case BackendMemory:
	case "":
		errs = append(errs, errors.New("storage.backend is required"))
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", backend))
	}
	if err := storage.ValidateKey(cfg.Key); err != nil {
		errs = append(errs, fmt.Errorf("storage.key: %w", err))
	}
	return errs
}

func validateTelemetryConfig(cfg *TelemetryConfig) []error {
	if cfg == nil || cfg.Enabled == nil || !*cfg.Enabled {
		return nil
	}
	var errs []error
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	} else if _, _, err := net.SplitHostPort(endpoint); err != nil {
		errs = append(errs, fmt.Errorf("telemetry.endpoint %q must be host:port: %w", endpoint, err))
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		errs = append(errs, errors.New("telemetry.serviceName is required when telemetry is enabled"))
	}
	return errs
}

func validateHooksConfig(h *HooksConfig) []error {
	if h == nil {
		return nil
	}
	var errs []error
	byEvent := h.ByEvent()
	names := make([]string, 0, len(byEvent))
	for name := range byEvent {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		errs = append(errs, validateHookMap("hooks."+name, byEvent[name])...)
	}
	if t := strings.TrimSpace(h.Timeout); t != "" {
		if d, err := time.ParseDuration(t); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("hooks.timeout %q must be a positive duration", h.Timeout))
		}
	}
	return errs
}

func validateHookMap(label string, hooks map[string]string) []error {
	keys := make([]string, 0, len(hooks))
	for k := range hooks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, matcher := range keys {
		if err := validateMatcher(matcher); err != nil {
			errs = append(errs, fmt.Errorf("%s[%s]: %w", label, matcher, err))
		}
		if strings.TrimSpace(hooks[matcher]) == "" {
			errs = append(errs, fmt.Errorf("%s[%s]: command is empty", label, matcher))
		}
	}
	return errs
}

// validateMatcher accepts the "*" wildcard or any regexp over the task text.
func validateMatcher(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return errors.New("matcher is empty")
	}
	if pattern == "*" {
		return nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("matcher %q is not a valid regexp: %w", pattern, err)
	}
	return nil
}
