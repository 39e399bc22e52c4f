package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SimCollector exposes procedure-level Prometheus metrics. It satisfies the
// recorder interfaces of the resistance sampler and the procedure state.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Progress          prometheus.Gauge
	PathLength        prometheus.Gauge
	Resistance        prometheus.Gauge
	DoseIndex         prometheus.Gauge
	CoveragePct       prometheus.Gauge
	ResidualPct       prometheus.Gauge
	Step              prometheus.Gauge
	SamplerCacheRatio prometheus.Gauge
	Serving           prometheus.Gauge

	StepTransitions *prometheus.CounterVec
	Complications   *prometheus.CounterVec
	ContrastShots   prometheus.Counter

	ResistanceSamples        *prometheus.CounterVec
	ResistanceSampleDuration prometheus.Histogram
}

// NewSimCollector registers procedure metrics against the provided registerer.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	reg, gatherer := registryPair(reg)
	c := &SimCollector{gatherer: gatherer}
	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.Progress, "sandbox_progress_ratio", "Normalized guidewire tip position along the centerline."},
		{&c.PathLength, "sandbox_path_length", "Accumulated guidewire travel in world units."},
		{&c.Resistance, "sandbox_resistance_ratio", "Most recent resistance sample in [0,1]."},
		{&c.DoseIndex, "sandbox_dose_index", "Accumulated radiation dose index."},
		{&c.CoveragePct, "sandbox_coverage_percent", "Lesion coverage by the stent, in percent."},
		{&c.ResidualPct, "sandbox_residual_stenosis_percent", "Residual stenosis, in percent."},
		{&c.Step, "sandbox_procedure_step", "Current procedure step index (0=Cross .. 3=Post-dilate)."},
		{&c.SamplerCacheRatio, "sandbox_resistance_cache_hit_ratio", "Hit ratio for the resistance sample cache."},
		{&c.Serving, "sandbox_procedure_serving", "1 while the procedure is serving, 0 during a complication or without a vessel surface."},
	}
	for _, g := range gauges {
		gauge, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
		*g.dst = gauge
	}

	var err error
	c.StepTransitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_step_transitions_total",
		Help: "Procedure step transitions, labeled by source and target step.",
	}, []string{"from", "to"}), "sandbox_step_transitions_total")
	if err != nil {
		return nil, err
	}
	c.Complications, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_complications_total",
		Help: "Complications raised, labeled by kind.",
	}, []string{"kind"}), "sandbox_complications_total")
	if err != nil {
		return nil, err
	}
	c.ContrastShots, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandbox_contrast_shots_total",
		Help: "Contrast injections, including cine runs.",
	}), "sandbox_contrast_shots_total")
	if err != nil {
		return nil, err
	}
	c.ResistanceSamples, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_resistance_samples_total",
		Help: "Resistance samples taken, labeled by whether the cache served them.",
	}, []string{"cached"}), "sandbox_resistance_samples_total")
	if err != nil {
		return nil, err
	}
	c.ResistanceSampleDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandbox_resistance_sample_duration_seconds",
		Help:    "Latency of a single resistance sample.",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
	}), "sandbox_resistance_sample_duration_seconds")
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveResistanceSample records the latency of one resistance sample.
func (c *SimCollector) ObserveResistanceSample(d time.Duration, cached bool) {
	if c == nil {
		return
	}
	if c.ResistanceSamples != nil {
		c.ResistanceSamples.WithLabelValues(fmt.Sprint(cached)).Inc()
	}
	if c.ResistanceSampleDuration != nil && !cached {
		c.ResistanceSampleDuration.Observe(d.Seconds())
	}
}

// SetProcedureMetrics updates the per-tick procedure gauges.
func (c *SimCollector) SetProcedureMetrics(progress, pathLength, resistance, dose, coverage, residual float64) {
	if c == nil {
		return
	}
	set := func(g prometheus.Gauge, v float64) {
		if g != nil {
			g.Set(v)
		}
	}
	set(c.Progress, progress)
	set(c.PathLength, pathLength)
	set(c.Resistance, resistance)
	set(c.DoseIndex, dose)
	set(c.CoveragePct, coverage)
	set(c.ResidualPct, residual)
}

// RecordStepTransition sets the step gauge and counts the transition.
func (c *SimCollector) RecordStepTransition(from, to string, index int) {
	if c == nil {
		return
	}
	if c.Step != nil {
		c.Step.Set(float64(index))
	}
	if c.StepTransitions != nil && from != to {
		c.StepTransitions.WithLabelValues(from, to).Inc()
	}
}

// IncComplication counts a raised complication.
func (c *SimCollector) IncComplication(kind string) {
	if c == nil || c.Complications == nil {
		return
	}
	c.Complications.WithLabelValues(kind).Inc()
}

// IncContrastShots counts one contrast injection.
func (c *SimCollector) IncContrastShots() {
	if c == nil || c.ContrastShots == nil {
		return
	}
	c.ContrastShots.Inc()
}

// SetSamplerCacheHitRatio sets the resistance cache hit ratio.
func (c *SimCollector) SetSamplerCacheHitRatio(ratio float64) {
	if c == nil || c.SamplerCacheRatio == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.SamplerCacheRatio.Set(ratio)
}

// SetServing mirrors the procedure's gRPC health status.
func (c *SimCollector) SetServing(ok bool) {
	if c == nil || c.Serving == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	c.Serving.Set(v)
}
