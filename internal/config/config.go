package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/HelioGo/internal/logic/geometry"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// Environment overrides, applied after the YAML file.
const (
	EnvDebugLevel      = "HELIOGO_DEBUG_LEVEL"
	EnvMockGPIO        = "HELIOGO_MOCK_GPIO"
	EnvCalibrationPath = "HELIOGO_CALIBRATION_PATH"
	EnvNTPServer       = "HELIOGO_NTP_SERVER"
)

// StepperConfig holds the configuration of one axis drive.
type StepperConfig struct {
	StepPin       int  `yaml:"step_pin"`
	DirPin        int  `yaml:"dir_pin"`
	InvertDir     bool `yaml:"invert_dir"` // swap Forward/Reverse when the motor is wired the other way
	StepsPerRev   int  `yaml:"steps_per_rev"`
	Microstepping int  `yaml:"microstepping"`
	MotorTeeth    int  `yaml:"motor_teeth"` // pinion on the motor shaft; 0 = direct drive
	AxisTeeth     int  `yaml:"axis_teeth"`  // gear on the mirror axis
}

// MicrostepsPerDegree returns the gear constant of this drive.
func (s StepperConfig) MicrostepsPerDegree() float64 {
	return geometry.MicrostepsPerDegree(s.StepsPerRev, s.Microstepping, s.MotorTeeth, s.AxisTeeth)
}

// DriverConfig describes the lines shared by both stepper drivers.
type DriverConfig struct {
	SleepResetPin int `yaml:"sleep_reset_pin"` // held HIGH while running. 0 = not wired.
	PulseWidthUs  int `yaml:"pulse_width_us"`  // STEP high time (µs)
}

// TrackingConfig holds the loop cadences.
type TrackingConfig struct {
	RefreshIntervalS int `yaml:"refresh_interval_s"` // sun position refresh
	StepIntervalMs   int `yaml:"step_interval_ms"`   // tracking step decision
	JogIntervalUs    int `yaml:"jog_interval_us"`    // minimum time between jog pulses
	OuterIntervalUs  int `yaml:"outer_interval_us"`  // minimum time between engine updates
	PollIntervalUs   int `yaml:"poll_interval_us"`   // sleep between loop iterations
}

// SiteConfig pre-fills the setup form and the calibration defaults.
type SiteConfig struct {
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	GMTOffsetSec int     `yaml:"gmt_offset_sec"`
	DSTOffsetSec int     `yaml:"dst_offset_sec"`
}

// ClockConfig selects the time source.
type ClockConfig struct {
	NTPServer       string `yaml:"ntp_server"`        // empty = trust the system clock
	SyncRetries     int    `yaml:"sync_retries"`      // startup attempts before giving up
	RetryWaitMs     int    `yaml:"retry_wait_ms"`     // pause between attempts while unsynchronized
	ResyncIntervalS int    `yaml:"resync_interval_s"` // background re-measurement once synchronized
}

// DefaultsConfig contains generic runtime parameters.
type DefaultsConfig struct {
	DebugLevel      int    `yaml:"debug_level"`      // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO        bool   `yaml:"mock_gpio"`        // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	CalibrationPath string `yaml:"calibration_path"` // empty = keep calibration in memory only
}

// Config aggregates all application configuration.
type Config struct {
	AzimuthStepper   StepperConfig  `yaml:"azimuth_stepper"`
	ElevationStepper StepperConfig  `yaml:"elevation_stepper"`
	Driver           DriverConfig   `yaml:"driver"`
	Tracking         TrackingConfig `yaml:"tracking"`
	Site             *SiteConfig    `yaml:"site,omitempty"` // optional
	Clock            ClockConfig    `yaml:"clock"`
	Defaults         DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that are empty, contain "..", do not
// end in .yaml or do not live directly in a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be in a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills zero values and validates the result.
func (c *Config) applyDefaults() error {
	if err := stepperDefaults("azimuth_stepper", &c.AzimuthStepper, geometry.AzimuthMotorTeeth, geometry.AzimuthAxisTeeth); err != nil {
		return err
	}
	if err := stepperDefaults("elevation_stepper", &c.ElevationStepper, geometry.ElevationMotorTeeth, geometry.ElevationAxisTeeth); err != nil {
		return err
	}
	if c.AzimuthStepper.StepPin == c.ElevationStepper.StepPin {
		return fmt.Errorf("azimuth and elevation step pins must differ, both are %d", c.AzimuthStepper.StepPin)
	}

	if c.Driver.PulseWidthUs <= 0 {
		c.Driver.PulseWidthUs = 2 // A4988/DRV8825 need ≥ 1.9µs
	}
	if c.Tracking.RefreshIntervalS <= 0 {
		c.Tracking.RefreshIntervalS = 60
	}
	if c.Tracking.StepIntervalMs <= 0 {
		c.Tracking.StepIntervalMs = 2
	}
	if c.Tracking.JogIntervalUs <= 0 {
		c.Tracking.JogIntervalUs = 1000
	}
	if c.Tracking.OuterIntervalUs <= 0 {
		c.Tracking.OuterIntervalUs = 1000
	}
	if c.Tracking.PollIntervalUs <= 0 {
		c.Tracking.PollIntervalUs = 200
	}
	if c.OuterInterval() > c.StepInterval() {
		return fmt.Errorf("outer_interval_us (%d) must not exceed step_interval_ms (%d)", c.Tracking.OuterIntervalUs, c.Tracking.StepIntervalMs)
	}

	if c.Site != nil {
		if err := validateLatLon(c.Site.Latitude, c.Site.Longitude); err != nil {
			return fmt.Errorf("site: %w", err)
		}
	}

	if c.Clock.SyncRetries <= 0 {
		c.Clock.SyncRetries = 10
	}
	if c.Clock.RetryWaitMs <= 0 {
		c.Clock.RetryWaitMs = 1000
	}
	if c.Clock.ResyncIntervalS <= 0 {
		c.Clock.ResyncIntervalS = 3600
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func stepperDefaults(name string, s *StepperConfig, motorTeeth, axisTeeth int) error {
	if s.StepPin <= 0 || s.DirPin <= 0 {
		return fmt.Errorf("%s: step_pin and dir_pin are required", name)
	}
	if s.StepPin == s.DirPin {
		return fmt.Errorf("%s: step_pin and dir_pin must differ", name)
	}
	if s.StepsPerRev <= 0 {
		s.StepsPerRev = geometry.DefaultStepsPerRev
	}
	if s.Microstepping <= 0 {
		s.Microstepping = geometry.DefaultMicrostepping
	}
	if s.MotorTeeth == 0 && s.AxisTeeth == 0 {
		s.MotorTeeth, s.AxisTeeth = motorTeeth, axisTeeth
	}
	if s.MotorTeeth < 0 || s.AxisTeeth < 0 {
		return fmt.Errorf("%s: gear teeth must be positive", name)
	}
	return nil
}

func validateLatLon(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %g", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %g", lon)
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment,
// without overriding variables that are already set. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides configuration values from HELIOGO_* environment
// variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvDebugLevel); ok {
		level, err := strconv.Atoi(v)
		if err != nil || level < 0 || level > 4 {
			return fmt.Errorf("%s must be 0-4, got %q", EnvDebugLevel, v)
		}
		c.Defaults.DebugLevel = level
	}
	if v, ok := os.LookupEnv(EnvMockGPIO); ok {
		mock, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMockGPIO, err)
		}
		c.Defaults.MockGPIO = mock
	}
	if v, ok := os.LookupEnv(EnvCalibrationPath); ok {
		c.Defaults.CalibrationPath = v
	}
	if v, ok := os.LookupEnv(EnvNTPServer); ok {
		c.Clock.NTPServer = v
	}
	return nil
}

// PulseWidth returns the STEP high time.
func (c *Config) PulseWidth() time.Duration {
	return time.Duration(c.Driver.PulseWidthUs) * time.Microsecond
}

// RefreshInterval returns the sun refresh cadence.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Tracking.RefreshIntervalS) * time.Second
}

// StepInterval returns the tracking step cadence.
func (c *Config) StepInterval() time.Duration {
	return time.Duration(c.Tracking.StepIntervalMs) * time.Millisecond
}

// JogInterval returns the minimum time between two jog pulses.
func (c *Config) JogInterval() time.Duration {
	return time.Duration(c.Tracking.JogIntervalUs) * time.Microsecond
}

// OuterInterval returns the minimum time between two engine updates.
func (c *Config) OuterInterval() time.Duration {
	return time.Duration(c.Tracking.OuterIntervalUs) * time.Microsecond
}

// PollInterval returns the sleep between loop iterations.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Tracking.PollIntervalUs) * time.Microsecond
}

// RetryWait returns the pause between two clock sync attempts.
func (c *Config) RetryWait() time.Duration {
	return time.Duration(c.Clock.RetryWaitMs) * time.Millisecond
}

// ResyncInterval returns the period of background clock re-measurement.
func (c *Config) ResyncInterval() time.Duration {
	return time.Duration(c.Clock.ResyncIntervalS) * time.Second
}
