package observability

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chargegrid.ai/internal/sim/world"
	chargeruntime "chargegrid.ai/internal/sim/world/feature/charge/runtime"
)

// GridCollector bundles Prometheus metrics for the charge network and the
// world loop. It implements world.Observer.
type GridCollector struct {
	gatherer prometheus.Gatherer

	Cascades           *prometheus.CounterVec
	CascadeEvaluations prometheus.Histogram
	CascadeChanged     prometheus.Histogram
	CascadeDiverged    prometheus.Counter

	Wires       prometheus.Gauge
	Emitters    prometheus.Gauge
	Clients     prometheus.Gauge
	Tick        prometheus.Gauge
	StepSeconds prometheus.Gauge
	Backlog     *prometheus.GaugeVec
}

var _ world.Observer = (*GridCollector)(nil)

// NewGridCollector registers grid metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewGridCollector(reg prometheus.Registerer) (*GridCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cascades, err := registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chargegrid_cascades_total",
		Help: "Charge cascades run, labeled by trigger.",
	}, []string{"trigger"}), "chargegrid_cascades_total")
	if err != nil {
		return nil, err
	}
	evals, err := registerCollector(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chargegrid_cascade_evaluations",
		Help:    "Tile evaluations per cascade.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}), "chargegrid_cascade_evaluations")
	if err != nil {
		return nil, err
	}
	changed, err := registerCollector(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chargegrid_cascade_changed",
		Help:    "Tiles whose charge changed per cascade.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}), "chargegrid_cascade_changed")
	if err != nil {
		return nil, err
	}
	backlog, err := registerCollector(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chargegrid_loop_backlog",
		Help: "Requests waiting on a world loop channel.",
	}, []string{"queue"}), "chargegrid_loop_backlog")
	if err != nil {
		return nil, err
	}
	diverged, err := registerCollector(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chargegrid_cascade_diverged_total",
		Help: "Cascades aborted after exhausting their evaluation budget.",
	}), "chargegrid_cascade_diverged_total")
	if err != nil {
		return nil, err
	}

	gauge := func(name, help string) (prometheus.Gauge, error) {
		return registerCollector(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}), name)
	}
	c := &GridCollector{
		gatherer:           gatherer,
		Cascades:           cascades,
		CascadeEvaluations: evals,
		CascadeChanged:     changed,
		CascadeDiverged:    diverged,
		Backlog:            backlog,
	}
	if c.Wires, err = gauge("chargegrid_wires", "Network tiles in the world."); err != nil {
		return nil, err
	}
	if c.Emitters, err = gauge("chargegrid_emitters", "Emitters in the world."); err != nil {
		return nil, err
	}
	if c.Clients, err = gauge("chargegrid_clients", "Connected clients."); err != nil {
		return nil, err
	}
	if c.Tick, err = gauge("chargegrid_tick", "Next world tick."); err != nil {
		return nil, err
	}
	if c.StepSeconds, err = gauge("chargegrid_step_seconds", "Duration of the last world step in seconds."); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *GridCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *GridCollector) ObserveCascade(stats chargeruntime.CascadeStats, err error) {
	if c == nil {
		return
	}
	c.Cascades.WithLabelValues(stats.Trigger).Inc()
	c.CascadeEvaluations.Observe(float64(stats.Evaluations))
	c.CascadeChanged.Observe(float64(stats.Writes))
	if errors.Is(err, chargeruntime.ErrCascadeDiverged) {
		c.CascadeDiverged.Inc()
	}
}

func (c *GridCollector) ObserveStep(m world.WorldMetrics) {
	if c == nil {
		return
	}
	c.Wires.Set(float64(m.Wires))
	c.Emitters.Set(float64(m.Emitters))
	c.Clients.Set(float64(m.Clients))
	c.Tick.Set(float64(m.Tick))
	c.StepSeconds.Set(m.StepMS / 1000)
	c.Backlog.WithLabelValues("edits").Set(float64(m.Backlog.Edits))
	c.Backlog.WithLabelValues("joins").Set(float64(m.Backlog.Joins))
	c.Backlog.WithLabelValues("leaves").Set(float64(m.Backlog.Leaves))
}

// registerCollector registers col, returning the already registered collector
// of the same type when one exists.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
