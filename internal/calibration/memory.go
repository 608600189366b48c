package calibration

import "sync"

// MemoryStore keeps calibration in process memory. It backs mock mode and
// tests; nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	saved    *Calibration
	defaults *Calibration
}

// NewMemoryStore returns an empty store; Load yields Defaults until Save.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SetDefaults replaces the fallback returned before the first Save.
func (m *MemoryStore) SetDefaults(c Calibration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Configured = false
	m.defaults = &c
}

func (m *MemoryStore) fallback() Calibration {
	if m.defaults != nil {
		return *m.defaults
	}
	return Defaults()
}

func (m *MemoryStore) Load() Calibration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return m.fallback()
	}
	return *m.saved
}

func (m *MemoryStore) Save(c Calibration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Configured = true
	m.saved = &c
	return nil
}

func (m *MemoryStore) ClearConfigured() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		d := m.fallback()
		m.saved = &d
	}
	m.saved.Configured = false
	return nil
}
