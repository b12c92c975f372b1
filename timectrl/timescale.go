// Package timectrl coordinates the three biological process classes that
// run at different natural frequencies: intracellular updates every step,
// diffusion solves every few steps, intercellular events (migration,
// division) less often still. The orchestrator owns scheduling bookkeeping
// only; it never touches biological state.
package timectrl

import (
	"fmt"
	"time"
)

// ProcessClass identifies one of the three update classes, ordered fast to
// slow.
type ProcessClass int

const (
	Intracellular ProcessClass = iota
	Diffusion
	Intercellular
)

func (c ProcessClass) String() string {
	switch c {
	case Intracellular:
		return "intracellular"
	case Diffusion:
		return "diffusion"
	case Intercellular:
		return "intercellular"
	default:
		return fmt.Sprintf("ProcessClass(%d)", int(c))
	}
}

// ProcessClasses lists every class, fast to slow.
var ProcessClasses = []ProcessClass{Intracellular, Diffusion, Intercellular}

// Decision says which process classes fire on a given step.
type Decision struct {
	Intracellular bool
	Diffusion     bool
	Intercellular bool
}

// Fires reports whether the named class fires under this decision.
func (d Decision) Fires(c ProcessClass) bool {
	switch c {
	case Intracellular:
		return d.Intracellular
	case Diffusion:
		return d.Diffusion
	default:
		return d.Intercellular
	}
}

// Config sets the base intervals (in steps) per process class and the
// adaptive-timing bounds. Zero intervals take the defaults 1 / 5 / 10.
type Config struct {
	Dt float64 // simulation time advanced per step, lattice time units

	IntracellularInterval int
	DiffusionInterval     int
	IntercellularInterval int

	// Adaptive enables advisory interval tuning from measured step cost.
	Adaptive    bool
	MinInterval int // lower bound for tuned intervals
	MaxInterval int // upper bound for tuned intervals
}

func (c Config) withDefaults() Config {
	if c.Dt <= 0 {
		c.Dt = 1
	}
	if c.IntracellularInterval <= 0 {
		c.IntracellularInterval = 1
	}
	if c.DiffusionInterval <= 0 {
		c.DiffusionInterval = 5
	}
	if c.IntercellularInterval <= 0 {
		c.IntercellularInterval = 10
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 1
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 100
	}
	return c
}

// TimescaleState is the orchestrator's bookkeeping: created once, updated
// once per Step call, never rolled back.
type TimescaleState struct {
	CurrentStep int
	CurrentTime float64

	LastFiredStep map[ProcessClass]int
	UpdateCounts  map[ProcessClass]int
}

type classTiming struct {
	lastSeconds  float64
	totalSeconds float64
	samples      int
}

// Orchestrator decides, per step index, which process classes fire, and
// enforces the cross-class dependency rule: an intercellular update always
// implies a diffusion solve, and a diffusion solve always implies an
// intracellular update, because later stages read values produced by
// earlier stages within the same step.
type Orchestrator struct {
	cfg Config

	diffusionInterval     int
	intercellularInterval int

	state  TimescaleState
	timing map[ProcessClass]*classTiming

	// emaStepSeconds tracks smoothed total step cost for AdaptTiming.
	emaStepSeconds float64
}

// New constructs an orchestrator with defaulted configuration.
func New(cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:                   cfg,
		diffusionInterval:     cfg.DiffusionInterval,
		intercellularInterval: cfg.IntercellularInterval,
		state: TimescaleState{
			LastFiredStep: make(map[ProcessClass]int),
			UpdateCounts:  make(map[ProcessClass]int),
		},
		timing: make(map[ProcessClass]*classTiming),
	}
	for _, c := range ProcessClasses {
		o.state.LastFiredStep[c] = -1
		o.timing[c] = &classTiming{}
	}
	return o
}

// Step decides which classes fire on stepIndex and advances the
// bookkeeping. The dependency closure is applied after the raw interval
// checks, so a slow class firing always drags its prerequisites along.
func (o *Orchestrator) Step(stepIndex int) Decision {
	d := Decision{
		Intracellular: stepIndex%o.cfg.IntracellularInterval == 0,
		Diffusion:     stepIndex%o.diffusionInterval == 0,
		Intercellular: stepIndex%o.intercellularInterval == 0,
	}
	if d.Intercellular {
		d.Diffusion = true
	}
	if d.Diffusion {
		d.Intracellular = true
	}

	o.state.CurrentStep = stepIndex
	o.state.CurrentTime = float64(stepIndex) * o.cfg.Dt
	for _, c := range ProcessClasses {
		if d.Fires(c) {
			o.state.LastFiredStep[c] = stepIndex
			o.state.UpdateCounts[c]++
		}
	}
	return d
}

// RecordProcessTiming stores the measured wall-clock cost of one class's
// update on one step. Purely observational; it never changes scheduling on
// its own.
func (o *Orchestrator) RecordProcessTiming(class ProcessClass, duration time.Duration, stepIndex int) {
	t, ok := o.timing[class]
	if !ok {
		return
	}
	t.lastSeconds = duration.Seconds()
	t.totalSeconds += t.lastSeconds
	t.samples++
}

// AverageProcessSeconds returns the mean recorded duration for a class, or
// zero when nothing was recorded.
func (o *Orchestrator) AverageProcessSeconds(class ProcessClass) float64 {
	t, ok := o.timing[class]
	if !ok || t.samples == 0 {
		return 0
	}
	return t.totalSeconds / float64(t.samples)
}

// AdaptTiming tunes the diffusion and intercellular intervals from the
// measured total step duration. The tuning is advisory: it widens
// intervals when steps run well above the smoothed cost and narrows them
// back toward the configured base when steps run well below it, always
// staying within [MinInterval, MaxInterval]. The intracellular interval is
// never touched, and no in-flight update is ever preempted.
func (o *Orchestrator) AdaptTiming(totalStepSeconds float64) {
	if !o.cfg.Adaptive || totalStepSeconds <= 0 {
		return
	}
	if o.emaStepSeconds == 0 {
		o.emaStepSeconds = totalStepSeconds
		return
	}
	const alpha = 0.2
	prev := o.emaStepSeconds
	o.emaStepSeconds = alpha*totalStepSeconds + (1-alpha)*prev

	switch {
	case totalStepSeconds > 1.5*prev:
		o.diffusionInterval = clampInterval(o.diffusionInterval+1, o.cfg.MinInterval, o.cfg.MaxInterval)
		o.intercellularInterval = clampInterval(o.intercellularInterval+1, o.cfg.MinInterval, o.cfg.MaxInterval)
	case totalStepSeconds < 0.5*prev:
		if o.diffusionInterval > o.cfg.DiffusionInterval {
			o.diffusionInterval = clampInterval(o.diffusionInterval-1, o.cfg.MinInterval, o.cfg.MaxInterval)
		}
		if o.intercellularInterval > o.cfg.IntercellularInterval {
			o.intercellularInterval = clampInterval(o.intercellularInterval-1, o.cfg.MinInterval, o.cfg.MaxInterval)
		}
	}
}

// Dt returns the simulation time advanced per step.
func (o *Orchestrator) Dt() float64 { return o.cfg.Dt }

// Intervals returns the current effective intervals per class.
func (o *Orchestrator) Intervals() (intracellular, diffusion, intercellular int) {
	return o.cfg.IntracellularInterval, o.diffusionInterval, o.intercellularInterval
}

// State returns a copy of the scheduling bookkeeping.
func (o *Orchestrator) State() TimescaleState {
	out := TimescaleState{
		CurrentStep:   o.state.CurrentStep,
		CurrentTime:   o.state.CurrentTime,
		LastFiredStep: make(map[ProcessClass]int, len(o.state.LastFiredStep)),
		UpdateCounts:  make(map[ProcessClass]int, len(o.state.UpdateCounts)),
	}
	for c, v := range o.state.LastFiredStep {
		out.LastFiredStep[c] = v
	}
	for c, v := range o.state.UpdateCounts {
		out.UpdateCounts[c] = v
	}
	return out
}

func clampInterval(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
