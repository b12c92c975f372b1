package timectrl

import (
	"testing"
	"time"
)

func TestStep_DefaultIntervals(t *testing.T) {
	o := New(Config{})

	d0 := o.Step(0)
	if !d0.Intracellular || !d0.Diffusion || !d0.Intercellular {
		t.Fatalf("step 0 should fire every class, got %+v", d0)
	}

	d1 := o.Step(1)
	if !d1.Intracellular || d1.Diffusion || d1.Intercellular {
		t.Fatalf("step 1 should fire intracellular only, got %+v", d1)
	}

	d5 := o.Step(5)
	if !d5.Diffusion || d5.Intercellular {
		t.Fatalf("step 5 should fire diffusion but not intercellular, got %+v", d5)
	}

	d10 := o.Step(10)
	if !d10.Intercellular || !d10.Diffusion || !d10.Intracellular {
		t.Fatalf("step 10 should fire every class, got %+v", d10)
	}
}

// An intercellular step drags diffusion and intracellular along even when
// their own intervals would skip the step.
func TestStep_DependencyClosure(t *testing.T) {
	o := New(Config{
		IntracellularInterval: 5,
		DiffusionInterval:     4,
		IntercellularInterval: 6,
	})

	d := o.Step(6) // 6%5 != 0, 6%4 != 0, 6%6 == 0
	if !d.Intercellular {
		t.Fatalf("step 6 should fire intercellular")
	}
	if !d.Diffusion || !d.Intracellular {
		t.Fatalf("intercellular must imply diffusion and intracellular, got %+v", d)
	}

	d = o.Step(4) // diffusion fires, intercellular does not
	if !d.Diffusion || !d.Intracellular || d.Intercellular {
		t.Fatalf("step 4 decision wrong: %+v", d)
	}
}

func TestStep_Bookkeeping(t *testing.T) {
	o := New(Config{Dt: 0.5})

	for i := 0; i <= 10; i++ {
		o.Step(i)
	}
	st := o.State()
	if st.CurrentStep != 10 {
		t.Fatalf("CurrentStep = %d, want 10", st.CurrentStep)
	}
	if st.CurrentTime != 5.0 {
		t.Fatalf("CurrentTime = %v, want 5.0", st.CurrentTime)
	}
	if st.UpdateCounts[Intracellular] != 11 {
		t.Fatalf("intracellular count = %d, want 11", st.UpdateCounts[Intracellular])
	}
	// Steps 0, 5, 10 fire diffusion on their own; 10 also via closure.
	if st.UpdateCounts[Diffusion] != 3 {
		t.Fatalf("diffusion count = %d, want 3", st.UpdateCounts[Diffusion])
	}
	if st.LastFiredStep[Intercellular] != 10 {
		t.Fatalf("intercellular last fired = %d, want 10", st.LastFiredStep[Intercellular])
	}
}

func TestState_ReturnsCopy(t *testing.T) {
	o := New(Config{})
	o.Step(0)

	st := o.State()
	st.UpdateCounts[Intracellular] = 999

	if o.State().UpdateCounts[Intracellular] == 999 {
		t.Fatalf("State must return an independent copy")
	}
}

func TestRecordProcessTiming_Average(t *testing.T) {
	o := New(Config{})
	o.RecordProcessTiming(Diffusion, 100*time.Millisecond, 0)
	o.RecordProcessTiming(Diffusion, 300*time.Millisecond, 1)

	got := o.AverageProcessSeconds(Diffusion)
	if got < 0.199 || got > 0.201 {
		t.Fatalf("average = %v, want 0.2", got)
	}
	if o.AverageProcessSeconds(Intercellular) != 0 {
		t.Fatalf("unrecorded class should average zero")
	}
}

func TestAdaptTiming_WidensWithinBounds(t *testing.T) {
	o := New(Config{
		Adaptive:              true,
		DiffusionInterval:     5,
		IntercellularInterval: 10,
		MaxInterval:           7,
	})

	// First sample only primes the smoothed cost.
	o.AdaptTiming(0.01)
	// Repeated 2x jumps over the smoothed cost widen the intervals.
	cost := 0.02
	for i := 0; i < 20; i++ {
		o.AdaptTiming(cost)
		cost *= 2
	}

	_, diffusion, intercellular := o.Intervals()
	if diffusion > 7 || intercellular > 7 {
		t.Fatalf("intervals exceeded MaxInterval: diffusion=%d intercellular=%d", diffusion, intercellular)
	}
	if diffusion <= 5 {
		t.Fatalf("diffusion interval should have widened, still %d", diffusion)
	}
}

func TestAdaptTiming_NarrowsBackToConfiguredBase(t *testing.T) {
	o := New(Config{
		Adaptive:              true,
		DiffusionInterval:     5,
		IntercellularInterval: 10,
		MaxInterval:           50,
	})

	o.AdaptTiming(0.01)
	cost := 0.02
	for i := 0; i < 10; i++ {
		o.AdaptTiming(cost)
		cost *= 2
	}
	_, widenedDiffusion, _ := o.Intervals()
	if widenedDiffusion <= 5 {
		t.Fatalf("setup: diffusion interval did not widen")
	}

	// Cheap steps walk the intervals back down, but never below base.
	for i := 0; i < 100; i++ {
		o.AdaptTiming(1e-9)
	}
	_, diffusion, intercellular := o.Intervals()
	if diffusion != 5 || intercellular != 10 {
		t.Fatalf("intervals should return to configured base, got diffusion=%d intercellular=%d", diffusion, intercellular)
	}
}

func TestAdaptTiming_DisabledIsNoop(t *testing.T) {
	o := New(Config{DiffusionInterval: 5, IntercellularInterval: 10})
	for i := 0; i < 10; i++ {
		o.AdaptTiming(float64(i + 1))
	}
	_, diffusion, intercellular := o.Intervals()
	if diffusion != 5 || intercellular != 10 {
		t.Fatalf("non-adaptive orchestrator changed intervals: %d %d", diffusion, intercellular)
	}
}

func TestProcessClassString(t *testing.T) {
	if Intracellular.String() != "intracellular" ||
		Diffusion.String() != "diffusion" ||
		Intercellular.String() != "intercellular" {
		t.Fatalf("process class names wrong")
	}
}
