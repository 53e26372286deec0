package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks variables that override file values. The rest of the
// name follows the yaml keys: MTK_ENGINE_FFMPEG_PATH sets engine.ffmpeg_path.
const EnvPrefix = "MTK_"

// reloadDebounce absorbs the burst of write events editors emit on save.
const reloadDebounce = 100 * time.Millisecond

// Manager owns the active configuration: a file layered over the
// environment defaults, MTK_ overrides on top, reloaded when the file changes.
type Manager struct {
	environment string

	mu           sync.RWMutex
	config       *Config
	path         string
	featureFlags map[string]bool
	watchers     []ConfigWatcher

	fileWatcher *fsnotify.Watcher
	done        chan struct{}
}

// ConfigWatcher is called after a reload with the previous and new config
type ConfigWatcher func(oldConfig, newConfig *Config) error

// fileConfig is the layered file layout. The section matching the
// environment is applied on top of base.
type fileConfig struct {
	Base        yaml.Node       `yaml:"base"`
	Development yaml.Node       `yaml:"development"`
	Staging     yaml.Node       `yaml:"staging"`
	Production  yaml.Node       `yaml:"production"`
	Features    map[string]bool `yaml:"features"`
}

func (f *fileConfig) layered() bool {
	return !f.Base.IsZero() || !f.Development.IsZero() || !f.Staging.IsZero() || !f.Production.IsZero()
}

func (f *fileConfig) section(environment string) yaml.Node {
	switch environment {
	case "development":
		return f.Development
	case "staging":
		return f.Staging
	case "production":
		return f.Production
	}
	return yaml.Node{}
}

// NewManager creates a manager for the named environment
func NewManager(environment string) *Manager {
	return &Manager{
		environment:  environment,
		featureFlags: make(map[string]bool),
	}
}

// LoadFromFile reads a YAML or JSON file. Keys the file leaves out keep
// their environment defaults.
func (m *Manager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	config := Load()
	flags := make(map[string]bool)

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json":
		err = json.Unmarshal(data, config)
	case ".yaml", ".yml":
		err = decodeYAML(data, m.environment, config, flags)
	default:
		return fmt.Errorf("unsupported config file format: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	if err := applyEnvOverrides(config); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
	m.path = filePath
	for name, enabled := range flags {
		m.featureFlags[name] = enabled
	}
	return nil
}

func decodeYAML(data []byte, environment string, config *Config, flags map[string]bool) error {
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	if !file.layered() {
		return yaml.Unmarshal(data, config)
	}

	for _, node := range []yaml.Node{file.Base, file.section(environment)} {
		if node.IsZero() {
			continue
		}
		if err := node.Decode(config); err != nil {
			return err
		}
	}
	for name, enabled := range file.Features {
		flags[name] = enabled
	}
	return nil
}

// LoadFromEnv uses the environment defaults plus MTK_ overrides
func (m *Manager) LoadFromEnv() error {
	config := Load()
	if err := applyEnvOverrides(config); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
	return nil
}

// applyEnvOverrides decodes every set MTK_ variable into config.
func applyEnvOverrides(config *Config) error {
	overrides := envOverrides(reflect.TypeOf(*config), EnvPrefix)
	if len(overrides) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           config,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(overrides); err != nil {
		return fmt.Errorf("invalid %s override: %w", EnvPrefix, err)
	}
	return nil
}

// envOverrides walks the yaml keys of t and returns the set variables as a
// nested map shaped like the config file.
func envOverrides(t reflect.Type, prefix string) map[string]interface{} {
	out := make(map[string]interface{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if key == "" || key == "-" {
			continue
		}
		name := prefix + strings.ToUpper(key)

		if field.Type.Kind() == reflect.Struct {
			if nested := envOverrides(field.Type, name+"_"); len(nested) > 0 {
				out[key] = nested
			}
			continue
		}
		if value := os.Getenv(name); value != "" {
			out[key] = value
		}
	}
	return out
}

// StartWatching reloads the loaded file whenever it is written
func (m *Manager) StartWatching() error {
	m.mu.RLock()
	path := m.path
	m.mu.RUnlock()
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	m.fileWatcher = watcher
	m.done = make(chan struct{})
	go m.watchLoop(watcher, m.done)
	return nil
}

// StopWatching stops the file watcher
func (m *Manager) StopWatching() {
	if m.fileWatcher == nil {
		return
	}
	close(m.done)
	m.fileWatcher.Close()
	m.fileWatcher = nil
}

func (m *Manager) watchLoop(watcher *fsnotify.Watcher, done <-chan struct{}) {
	var debounce <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) {
				debounce = time.After(reloadDebounce)
			}
		case <-debounce:
			debounce = nil
			if err := m.Reload(); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to reload config: %v\n", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "Config watcher error: %v\n", err)
		case <-done:
			return
		}
	}
}

// AddWatcher registers a reload callback
func (m *Manager) AddWatcher(watcher ConfigWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, watcher)
}

// GetConfig returns a copy of the current configuration
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Load()
	}
	configCopy := *m.config
	return &configCopy
}

// Reload re-reads the file, or the environment when no file was loaded,
// and notifies the watchers.
func (m *Manager) Reload() error {
	oldConfig := m.GetConfig()

	m.mu.RLock()
	path := m.path
	m.mu.RUnlock()

	var err error
	if path == "" {
		err = m.LoadFromEnv()
	} else {
		err = m.LoadFromFile(path)
	}
	if err != nil {
		return err
	}

	newConfig := m.GetConfig()
	m.mu.RLock()
	watchers := append([]ConfigWatcher(nil), m.watchers...)
	m.mu.RUnlock()

	for _, watcher := range watchers {
		if err := watcher(oldConfig, newConfig); err != nil {
			return fmt.Errorf("config watcher failed: %w", err)
		}
	}
	return nil
}

// Validate checks the current configuration
func (m *Manager) Validate() error {
	return m.GetConfig().Validate()
}

// SetFeatureFlag sets a feature flag
func (m *Manager) SetFeatureFlag(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.featureFlags[name] = enabled
}

// IsFeatureEnabled reports whether a flag is set and on
func (m *Manager) IsFeatureEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.featureFlags[name]
}

// GetFeatureFlags returns a copy of all feature flags
func (m *Manager) GetFeatureFlags() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flags := make(map[string]bool, len(m.featureFlags))
	for k, v := range m.featureFlags {
		flags[k] = v
	}
	return flags
}

// ExportToFile writes the current configuration as YAML
func (m *Manager) ExportToFile(filePath string) error {
	data, err := yaml.Marshal(m.GetConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filePath, err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filePath, err)
	}
	return nil
}
