// Package metrics exposes the controller's activity as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cjeanneret/HelioGo/internal/logic/geometry"
	"github.com/cjeanneret/HelioGo/internal/logic/tracking"
)

const namespace = "heliogo"

var modes = []tracking.Mode{tracking.Idle, tracking.Manual, tracking.Tracking}

// Collector bundles the controller metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Pulses       *prometheus.CounterVec
	Position     *prometheus.GaugeVec
	Mode         *prometheus.GaugeVec
	SunTarget    *prometheus.GaugeVec
	BelowHorizon prometheus.Gauge
	Refreshes    prometheus.Counter
	ClockUnready prometheus.Counter
	Commands     *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice on the same registry returns the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Pulses, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pulses_total",
		Help:      "Step pulses emitted, labeled by axis and source (jog or track).",
	}, []string{"axis", "source"})); err != nil {
		return nil, err
	}
	if c.Position, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mirror_position_microsteps",
		Help:      "Recorded mirror position per axis.",
	}, []string{"axis"})); err != nil {
		return nil, err
	}
	if c.Mode, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mode",
		Help:      "Operating mode; 1 for the active mode, 0 otherwise.",
	}, []string{"mode"})); err != nil {
		return nil, err
	}
	if c.SunTarget, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sun_target_degrees",
		Help:      "Last computed sun position per axis.",
	}, []string{"axis"})); err != nil {
		return nil, err
	}
	if c.BelowHorizon, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sun_below_horizon",
		Help:      "1 while stepping is suspended because the sun is below the horizon.",
	})); err != nil {
		return nil, err
	}
	if c.Refreshes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sun_refreshes_total",
		Help:      "Sun position refreshes.",
	})); err != nil {
		return nil, err
	}
	if c.ClockUnready, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clock_unready_total",
		Help:      "Sun refreshes skipped because the clock was not synchronized.",
	})); err != nil {
		return nil, err
	}
	if c.Commands, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Remote commands dispatched, labeled by command.",
	}, []string{"command"})); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObservePulse satisfies motion.PulseRecorder.
func (c *Collector) ObservePulse(axis geometry.Axis, source string, position int64) {
	if c == nil {
		return
	}
	c.Pulses.WithLabelValues(axis.String(), source).Inc()
	c.Position.WithLabelValues(axis.String()).Set(float64(position))
}

// ObserveMode satisfies tracking.Recorder.
func (c *Collector) ObserveMode(mode tracking.Mode) {
	if c == nil {
		return
	}
	for _, m := range modes {
		v := 0.0
		if m == mode {
			v = 1
		}
		c.Mode.WithLabelValues(m.String()).Set(v)
	}
}

// ObserveRefresh satisfies tracking.Recorder.
func (c *Collector) ObserveRefresh(target tracking.Target, belowHorizon bool) {
	if c == nil {
		return
	}
	c.Refreshes.Inc()
	c.SunTarget.WithLabelValues(geometry.Azimuth.String()).Set(target.AzimuthDeg)
	c.SunTarget.WithLabelValues(geometry.Elevation.String()).Set(target.ElevationDeg)
	if belowHorizon {
		c.BelowHorizon.Set(1)
	} else {
		c.BelowHorizon.Set(0)
	}
}

// ObserveClockUnready satisfies tracking.Recorder.
func (c *Collector) ObserveClockUnready() {
	if c == nil {
		return
	}
	c.ClockUnready.Inc()
}

// ObserveCommand satisfies control.CommandRecorder.
func (c *Collector) ObserveCommand(name string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(name).Inc()
}

// register adds col to reg, or returns the collector already registered
// under the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return col, fmt.Errorf("collector %T already registered with incompatible type", col)
		}
		return col, err
	}
	return col, nil
}
