package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// WatchFunc receives the new configuration snapshot after a change applies.
// Callbacks run synchronously in registration order; they must not block.
type WatchFunc func(*Config)

// Store owns the live configuration. Reads return snapshots; writes are
// validated against the full configuration before they are applied,
// persisted to the config file, and broadcast to watchers. Components keep
// their own snapshot and rebuild from the broadcast rather than reading a
// shared global.
type Store struct {
	mu       sync.RWMutex
	v        *viper.Viper
	cfg      *Config
	path     string
	watchers map[int]WatchFunc
	nextID   int
}

// NewStore loads configuration from configPath (or the standard search
// locations when empty) and wraps it in a Store. Save writes back to the
// file that was loaded, or to configPath, or to ./config.yaml when neither
// exists yet.
func NewStore(configPath string) (*Store, error) {
	v, err := read(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	if res := cfg.Validate(); !res.Valid {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(res.Errors, "; "))
	}

	path := v.ConfigFileUsed()
	if path == "" {
		path = configPath
	}
	if path == "" {
		path = "config.yaml"
	}

	return &Store{
		v:        v,
		cfg:      cfg,
		path:     path,
		watchers: make(map[int]WatchFunc),
	}, nil
}

// Config returns a snapshot of the current configuration. The snapshot is a
// copy; mutating it has no effect on the store.
func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := *s.cfg
	return &snap
}

// Get returns the raw value for a dotted key, or nil when the key is unknown.
func (s *Store) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.Get(key)
}

// Known reports whether key is a recognised configuration key.
func (s *Store) Known(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.v.AllKeys(), strings.ToLower(key))
}

// All returns every setting as a nested map keyed by section.
func (s *Store) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.AllSettings()
}

// Validate re-validates the current configuration and returns every
// violation found. It never returns an error.
func (s *Store) Validate() ValidationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Validate()
}

// Set applies a single dotted-key change. The change is validated against
// the full configuration first; invalid changes are rejected without
// touching the store or the file.
func (s *Store) Set(key string, value any) error {
	return s.Update(map[string]any{key: value})
}

// Update applies several dotted-key changes atomically: either all of them
// validate and persist, or none do. Watchers are notified once with the
// merged snapshot.
func (s *Store) Update(values map[string]any) error {
	s.mu.Lock()

	known := s.v.AllKeys()
	for key := range values {
		if !slices.Contains(known, strings.ToLower(key)) {
			s.mu.Unlock()
			return fmt.Errorf("unknown configuration key %q", key)
		}
	}

	// Trial-decode the candidate before mutating anything.
	trial := viper.New()
	if err := trial.MergeConfigMap(s.v.AllSettings()); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("merging settings: %w", err)
	}
	for key, value := range values {
		trial.Set(key, value)
	}
	cfg, err := unmarshal(trial)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if res := cfg.Validate(); !res.Valid {
		s.mu.Unlock()
		return fmt.Errorf("invalid configuration: %s", strings.Join(res.Errors, "; "))
	}

	for key, value := range values {
		s.v.Set(key, value)
	}
	s.cfg = cfg
	if err := s.saveLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	snap := *cfg
	fns := s.watcherList()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(&snap)
	}
	return nil
}

// Save writes the current settings to the config file via a temp file and
// rename, so a crash mid-write never corrupts the existing file.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(s.v.AllSettings())
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// Reload re-reads the config file and environment, replacing the current
// state. Watchers are notified with the reloaded snapshot.
func (s *Store) Reload() error {
	s.mu.Lock()

	v, err := read(s.path)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	cfg, err := unmarshal(v)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if res := cfg.Validate(); !res.Valid {
		s.mu.Unlock()
		return fmt.Errorf("invalid configuration: %s", strings.Join(res.Errors, "; "))
	}

	s.v = v
	s.cfg = cfg

	snap := *cfg
	fns := s.watcherList()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(&snap)
	}
	return nil
}

// Watch registers a callback for configuration changes. The returned cancel
// function removes the registration.
func (s *Store) Watch(fn WatchFunc) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// watcherList snapshots registered callbacks in registration order.
// Callers must hold mu.
func (s *Store) watcherList() []WatchFunc {
	ids := make([]int, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]WatchFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.watchers[id])
	}
	return fns
}

// read builds a viper instance from defaults, the config file, and the
// environment. A missing config file is not an error; a broken one is.
func read(configPath string) (*viper.Viper, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/recodarr")
	}

	v.SetEnvPrefix("RECODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return v, nil
}
