package calibration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cjeanneret/HelioGo/internal/debug"
	"gopkg.in/yaml.v3"
)

// record is the on-disk form. Pointers distinguish "absent" from zero so
// that every missing key falls back to its own default.
type record struct {
	Configured         *bool    `yaml:"setup,omitempty"`
	Latitude           *float64 `yaml:"lat,omitempty"`
	Longitude          *float64 `yaml:"lon,omitempty"`
	GMTOffsetSec       *int     `yaml:"gmt,omitempty"`
	DSTOffsetSec       *int     `yaml:"dst,omitempty"`
	MicrostepsPerDegAz *float64 `yaml:"cal_az,omitempty"`
	MicrostepsPerDegEl *float64 `yaml:"cal_el,omitempty"`
}

// FileStore persists calibration as a YAML document.
type FileStore struct {
	path     string
	defaults Calibration
}

// NewFileStore returns a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, defaults: Defaults()}
}

// SetDefaults replaces the fallback used for values never persisted.
func (s *FileStore) SetDefaults(c Calibration) {
	c.Configured = false
	s.defaults = c
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() Calibration {
	c := s.defaults
	rec, err := s.read()
	if err != nil {
		debug.Error(fmt.Errorf("load calibration: %w", err))
		return c
	}
	if rec.Configured != nil {
		c.Configured = *rec.Configured
	}
	if rec.Latitude != nil {
		c.Latitude = *rec.Latitude
	}
	if rec.Longitude != nil {
		c.Longitude = *rec.Longitude
	}
	if rec.GMTOffsetSec != nil {
		c.GMTOffsetSec = *rec.GMTOffsetSec
	}
	if rec.DSTOffsetSec != nil {
		c.DSTOffsetSec = *rec.DSTOffsetSec
	}
	if rec.MicrostepsPerDegAz != nil {
		c.MicrostepsPerDegAz = *rec.MicrostepsPerDegAz
	}
	if rec.MicrostepsPerDegEl != nil {
		c.MicrostepsPerDegEl = *rec.MicrostepsPerDegEl
	}
	return c
}

func (s *FileStore) Save(c Calibration) error {
	configured := true
	return s.write(record{
		Configured:         &configured,
		Latitude:           &c.Latitude,
		Longitude:          &c.Longitude,
		GMTOffsetSec:       &c.GMTOffsetSec,
		DSTOffsetSec:       &c.DSTOffsetSec,
		MicrostepsPerDegAz: &c.MicrostepsPerDegAz,
		MicrostepsPerDegEl: &c.MicrostepsPerDegEl,
	})
}

// ClearConfigured rewrites only the setup flag; other keys keep whatever
// was stored, including being absent.
func (s *FileStore) ClearConfigured() error {
	rec, err := s.read()
	if err != nil {
		return err
	}
	configured := false
	rec.Configured = &configured
	return s.write(rec)
}

// read returns an empty record when the file does not exist yet.
func (s *FileStore) read() (record, error) {
	var rec record
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("read calibration file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("unmarshal calibration: %w", err)
	}
	return rec, nil
}

// write replaces the file atomically (temp file + rename).
func (s *FileStore) write(rec record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".calibration-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write calibration: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync calibration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close calibration: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace calibration file: %w", err)
	}
	return nil
}
