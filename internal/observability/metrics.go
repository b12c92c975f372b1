package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for a simulation run and
// provides the /metrics handler. The engine drives it through the
// MetricsRecorder interface so core never imports Prometheus directly.
type SimCollector struct {
	gatherer prometheus.Gatherer

	StepDurations  *prometheus.HistogramVec
	ProcessUpdates *prometheus.CounterVec

	PopulationCells     prometheus.Gauge
	PhenotypeCells      *prometheus.GaugeVec
	GenerationsTotal    prometheus.Counter
	RuleEvalErrorsTotal prometheus.Counter
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_step_duration_seconds",
		Help:    "Wall-clock duration of one process-class update, labeled by class.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"class"})
	durations, err := registerHistogramVec(reg, durations, "sim_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	updates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_process_updates_total",
		Help: "Total number of fired process-class updates, labeled by class.",
	}, []string{"class"})
	updates, err = registerCounterVec(reg, updates, "sim_process_updates_total")
	if err != nil {
		return nil, err
	}

	cells, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_population_cells",
		Help: "Current number of live cells on the lattice.",
	}), "sim_population_cells")
	if err != nil {
		return nil, err
	}

	phenotypes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_population_phenotype_cells",
		Help: "Current number of live cells per phenotype.",
	}, []string{"phenotype"})
	phenotypes, err = registerGaugeVec(reg, phenotypes, "sim_population_phenotype_cells")
	if err != nil {
		return nil, err
	}

	generations, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_generations_total",
		Help: "Total number of successful cell divisions.",
	}), "sim_generations_total")
	if err != nil {
		return nil, err
	}

	ruleErrors, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_rule_eval_errors_total",
		Help: "Total number of gene-rule evaluation failures (each treated as false for that step).",
	}), "sim_rule_eval_errors_total")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:            gatherer,
		StepDurations:       durations,
		ProcessUpdates:      updates,
		PopulationCells:     cells,
		PhenotypeCells:      phenotypes,
		GenerationsTotal:    generations,
		RuleEvalErrorsTotal: ruleErrors,
	}, nil
}

// ObserveProcessDuration records the wall-clock cost of one process-class
// update. Satisfies core.MetricsRecorder.
func (c *SimCollector) ObserveProcessDuration(class string, d time.Duration) {
	if c == nil || c.StepDurations == nil {
		return
	}
	c.StepDurations.WithLabelValues(class).Observe(d.Seconds())
	if c.ProcessUpdates != nil {
		c.ProcessUpdates.WithLabelValues(class).Inc()
	}
}

// SetPopulationCounts updates the population gauges from a statistics
// snapshot. Satisfies core.MetricsRecorder.
func (c *SimCollector) SetPopulationCounts(total int, byPhenotype map[string]int) {
	if c == nil {
		return
	}
	if c.PopulationCells != nil {
		c.PopulationCells.Set(float64(total))
	}
	if c.PhenotypeCells != nil {
		for phenotype, n := range byPhenotype {
			c.PhenotypeCells.WithLabelValues(phenotype).Set(float64(n))
		}
	}
}

// AddGenerations adds successful divisions to the generation counter.
// Satisfies core.MetricsRecorder.
func (c *SimCollector) AddGenerations(n int) {
	if c == nil || c.GenerationsTotal == nil || n <= 0 {
		return
	}
	c.GenerationsTotal.Add(float64(n))
}

// IncRuleEvalErrors counts one gene-rule evaluation failure. Satisfies
// core.MetricsRecorder.
func (c *SimCollector) IncRuleEvalErrors() {
	if c == nil || c.RuleEvalErrorsTotal == nil {
		return
	}
	c.RuleEvalErrorsTotal.Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
