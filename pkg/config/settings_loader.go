package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	configDirName  = ".taskdeck"
	defaultDataDir = ".taskdeck/data"
)

// projectConfigNames are probed in order; the first existing file wins.
var projectConfigNames = []string{"config.yaml", "config.yml", "config.toml"}

// SettingsLoader composes settings using a simple precedence model.
// Higher-priority layers override lower ones while preserving unspecified fields.
// Order (low -> high): defaults < project file < environment < runtime overrides.
type SettingsLoader struct {
	ProjectRoot      string
	ConfigPath       string // explicit config file; skips project discovery when set
	RuntimeOverrides *Settings
	Getenv           func(string) string
}

// Load resolves, merges and validates settings across all layers.
func (l *SettingsLoader) Load() (*Settings, error) {
	root := l.ProjectRoot
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	root = abs

	merged := GetDefaultSettings()

	path := l.ConfigPath
	if path == "" {
		path = findProjectConfig(root)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	if err := applySettingsLayer(&merged, "project", path, l.ConfigPath != ""); err != nil {
		return nil, err
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	envLayer, err := settingsFromEnv(getenv)
	if err != nil {
		return nil, err
	}
	if envLayer != nil {
		log.Printf("settings: applying environment overrides")
		merged = *MergeSettings(&merged, envLayer)
	}

	if l.RuntimeOverrides != nil {
		log.Printf("settings: applying runtime overrides")
		merged = *MergeSettings(&merged, l.RuntimeOverrides)
	}

	if merged.Storage != nil && merged.Storage.Dir != "" && !filepath.IsAbs(merged.Storage.Dir) {
		merged.Storage.Dir = filepath.Join(root, merged.Storage.Dir)
	}

	if err := ValidateSettings(&merged); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &merged, nil
}

// findProjectConfig returns the first config file under <root>/.taskdeck, or "".
func findProjectConfig(root string) string {
	for _, name := range projectConfigNames {
		candidate := filepath.Join(root, configDirName, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// loadSettingsFile decodes a YAML or TOML settings file by extension.
// Missing files return (nil, nil).
func loadSettingsFile(path string) (*Settings, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var s Settings
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &s)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("decode %s: unsupported config format %q", path, filepath.Ext(path))
	}
	return &s, nil
}

func applySettingsLayer(dst *Settings, name, path string, required bool) error {
	if path == "" {
		log.Printf("settings: %s layer skipped (no path)", name)
		return nil
	}
	cfg, err := loadSettingsFile(path)
	if err != nil {
		return fmt.Errorf("load %s settings: %w", name, err)
	}
	if cfg == nil {
		if required {
			return fmt.Errorf("load %s settings: %s not found", name, path)
		}
		log.Printf("settings: %s layer not found at %s", name, path)
		return nil
	}
	log.Printf("settings: applying %s layer from %s", name, path)
	if next := MergeSettings(dst, cfg); next != nil {
		*dst = *next
	}
	return nil
}
