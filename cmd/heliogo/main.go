package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjeanneret/HelioGo/internal/calibration"
	"github.com/cjeanneret/HelioGo/internal/clock"
	"github.com/cjeanneret/HelioGo/internal/config"
	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/cjeanneret/HelioGo/internal/hw/gpio"
	"github.com/cjeanneret/HelioGo/internal/hw/stepper"
	"github.com/cjeanneret/HelioGo/internal/logic/control"
	"github.com/cjeanneret/HelioGo/internal/logic/ephemeris"
	"github.com/cjeanneret/HelioGo/internal/logic/motion"
	"github.com/cjeanneret/HelioGo/internal/logic/tracking"
	"github.com/cjeanneret/HelioGo/internal/metrics"
	"github.com/cjeanneret/HelioGo/internal/web"
)

// networkPollInterval is the wait between two network readiness checks.
const networkPollInterval = 500 * time.Millisecond

func main() {
	// CLI flags
	webPort := flag.Int("web", 8080, "port of the control page and command endpoints (1-65535)")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file with HELIOGO_* overrides")
	latitude := flag.Float64("lat", 0, "override default site latitude in degrees (-90..90)")
	longitude := flag.Float64("lon", 0, "override default site longitude in degrees (-180..180)")
	skipNetwork := flag.Bool("no-network-wait", false, "start without waiting for a network interface")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.LoadEnvFile(*envPath); err != nil {
		log.Fatalf("load env file failed: %v", err)
	}
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("environment override failed: %v", err)
	}

	if err := validatePort(*webPort); err != nil {
		log.Fatalf("invalid -web: %v", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config default")
	if err := validateCLIOverrides(*latitude, *longitude); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, *latitude, *longitude)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	broadcaster := web.NewLogBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.LogWriter(broadcaster)))
	debug.Summary("HelioGo heliostat controller")
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	if !*skipNetwork {
		debug.Step(1, "Waiting for network")
		if err := waitForNetwork(ctx, hasNetwork, networkPollInterval); err != nil {
			log.Fatalf("network wait aborted: %v", err)
		}
	}

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(2, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	// Stepper drivers stay awake, holding the mirror, for the process lifetime
	debug.Step(3, "Initializing stepper motors")
	driverLine := stepper.NewDriverLine(gpioDriver, cfg.Driver.SleepResetPin)
	if err := driverLine.Wake(); err != nil {
		log.Fatalf("wake stepper drivers failed: %v", err)
	}
	defer func() {
		if err := driverLine.Sleep(); err != nil {
			log.Printf("releasing stepper drivers failed: %v", err)
		}
	}()
	azMotor := stepper.NewStepper(gpioDriver, stepperConfig(cfg.AzimuthStepper, cfg.PulseWidth()))
	debug.PrintStruct("Azimuth stepper config", cfg.AzimuthStepper)
	elMotor := stepper.NewStepper(gpioDriver, stepperConfig(cfg.ElevationStepper, cfg.PulseWidth()))
	debug.PrintStruct("Elevation stepper config", cfg.ElevationStepper)
	motionCtrl := motion.NewController(azMotor, elMotor, cfg.JogInterval())

	// Calibration
	debug.Step(4, "Loading calibration")
	store := newCalibrationStore(cfg)
	cal := store.Load()
	debug.PrintStruct("Calibration", cal)
	debug.Info("Mirror position assumed at 0,0: align the mirror north and level before tracking")

	// Clock
	debug.Step(5, "Synchronizing clock")
	clk := newClock(ctx, cfg)

	// Metrics
	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		log.Fatalf("init metrics failed: %v", err)
	}
	motionCtrl.SetRecorder(collector)

	debug.Step(6, "Starting tracking engine")
	engine := tracking.NewEngine(motionCtrl, clk, ephemeris.SunPosition, cal, tracking.Config{
		RefreshInterval: cfg.RefreshInterval(),
		StepInterval:    cfg.StepInterval(),
	})
	engine.SetRecorder(collector)
	dispatcher := control.NewDispatcher(engine, store)
	dispatcher.SetRecorder(collector)
	loop := control.NewLoop(dispatcher, control.LoopConfig{
		OuterInterval: cfg.OuterInterval(),
		PollInterval:  cfg.PollInterval(),
	})
	if cal.Configured {
		debug.Info("Setup complete: send start_track to begin tracking")
	} else {
		debug.Info("Setup required: send setup_complete from the control page")
	}

	webAddr := fmt.Sprintf(":%d", *webPort)
	srv := web.NewServer(webAddr, broadcaster, loop, siteDefaults(cal), collector.Handler())

	// The loop and the server stop together: whichever returns first
	// cancels the other.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(runCtx)
		stop()
	}()
	if err := srv.Run(runCtx); err != nil {
		log.Printf("web server: %v", err)
	}
	stop()
	if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("control loop: %v", err)
	}
	debug.Info("HelioGo stopped")
}

// stepperConfig maps one axis section of the configuration onto the driver.
func stepperConfig(s config.StepperConfig, pulseWidth time.Duration) stepper.Config {
	return stepper.Config{
		StepPin:    s.StepPin,
		DirPin:     s.DirPin,
		InvertDir:  s.InvertDir,
		PulseWidth: pulseWidth,
	}
}

// calibrationDefaults derives the never-configured calibration from the
// site section and the gear trains.
func calibrationDefaults(cfg *config.Config) calibration.Calibration {
	c := calibration.Defaults()
	if cfg.Site != nil {
		c.Latitude = cfg.Site.Latitude
		c.Longitude = cfg.Site.Longitude
		c.GMTOffsetSec = cfg.Site.GMTOffsetSec
		c.DSTOffsetSec = cfg.Site.DSTOffsetSec
	}
	c.MicrostepsPerDegAz = cfg.AzimuthStepper.MicrostepsPerDegree()
	c.MicrostepsPerDegEl = cfg.ElevationStepper.MicrostepsPerDegree()
	return c
}

// newCalibrationStore selects file persistence when a path is configured.
func newCalibrationStore(cfg *config.Config) calibration.Store {
	defaults := calibrationDefaults(cfg)
	if cfg.Defaults.CalibrationPath == "" {
		debug.Info("No calibration path: setup is kept in memory only")
		m := calibration.NewMemoryStore()
		m.SetDefaults(defaults)
		return m
	}
	debug.Value("Calibration path", cfg.Defaults.CalibrationPath)
	f := calibration.NewFileStore(cfg.Defaults.CalibrationPath)
	f.SetDefaults(defaults)
	return f
}

// newClock returns an NTP-corrected clock, or the host clock when no
// server is configured. A failed sync never aborts startup: the clock
// keeps synchronizing in the background until ctx is cancelled.
func newClock(ctx context.Context, cfg *config.Config) clock.Source {
	if cfg.Clock.NTPServer == "" {
		debug.Info("No NTP server: trusting the system clock")
		return clock.NewSystem()
	}
	debug.Value("NTP server", cfg.Clock.NTPServer)
	n := clock.NewNTP(cfg.Clock.NTPServer)
	if err := n.Sync(ctx, cfg.Clock.SyncRetries, cfg.RetryWait()); err != nil {
		debug.Error(err)
		debug.Info("Clock not synchronized: retrying every %v, tracking waits until then", cfg.RetryWait())
	}
	go n.Run(ctx, cfg.RetryWait(), cfg.ResyncInterval())
	return n
}

func siteDefaults(c calibration.Calibration) web.SiteDefaults {
	return web.SiteDefaults{
		Latitude:     c.Latitude,
		Longitude:    c.Longitude,
		GMTOffsetSec: c.GMTOffsetSec,
		DSTOffsetSec: c.DSTOffsetSec,
	}
}

// waitForNetwork blocks until ready reports true or ctx is cancelled.
func waitForNetwork(ctx context.Context, ready func() bool, interval time.Duration) error {
	for attempt := 1; !ready(); attempt++ {
		debug.Info("Waiting for network (attempt %d)", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	debug.Info("Network ready")
	return nil
}

// hasNetwork reports whether an interface that is up carries a
// non-loopback address.
func hasNetwork() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				return true
			}
		}
	}
	return false
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(lat, lon float64) error {
	if lat != 0 {
		if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
			return fmt.Errorf("lat must be between -90 and 90, got %g", lat)
		}
	}
	if lon != 0 {
		if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
			return fmt.Errorf("lon must be between -180 and 180, got %g", lon)
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, lat, lon float64) {
	if lat == 0 && lon == 0 {
		return
	}
	if cfg.Site == nil {
		cfg.Site = &config.SiteConfig{
			Latitude:     calibration.DefaultLatitude,
			Longitude:    calibration.DefaultLongitude,
			GMTOffsetSec: calibration.DefaultGMTOffsetSec,
			DSTOffsetSec: calibration.DefaultDSTOffsetSec,
		}
	}
	if lat != 0 {
		cfg.Site.Latitude = lat
	}
	if lon != 0 {
		cfg.Site.Longitude = lon
	}
}

// validatePort checks the listening port of the web server.
func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", port)
	}
	return nil
}
