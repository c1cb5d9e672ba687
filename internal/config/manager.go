package config

import (
	"sync/atomic"
)

// Manager holds the live configuration snapshot. Tunables (TTLs, thresholds,
// filter rules, provider priorities) are read from Current on every
// resolution, so a Reload takes effect without a restart. Client credentials
// and base URLs are bound at startup; changing those requires a restart.
type Manager struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewManager loads the configuration from path and returns a Manager.
func NewManager(path string) (*Manager, error) {
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cur.Store(cfg)
	return m, nil
}

// NewStatic wraps a fixed Config; Reload is a no-op. Intended for tests.
func NewStatic(cfg *Config) *Manager {
	m := &Manager{}
	m.cur.Store(cfg)
	return m
}

// Current returns the active configuration snapshot. Callers must not
// mutate the returned value.
func (m *Manager) Current() *Config {
	return m.cur.Load()
}

// Reload re-reads the configuration file and swaps the snapshot atomically.
// On error the previous snapshot stays active.
func (m *Manager) Reload() error {
	if m.path == "" {
		return nil
	}
	cfg, err := LoadFrom(m.path)
	if err != nil {
		return err
	}
	m.cur.Store(cfg)
	return nil
}

// Swap replaces the active snapshot directly (tests and admin overrides).
func (m *Manager) Swap(cfg *Config) {
	m.cur.Store(cfg)
}
