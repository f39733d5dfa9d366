package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rangewatch/internal/registry"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testPool(addedAt time.Time) registry.PoolConfig {
	p := registry.NewPoolConfig("0xpool", "USDT/USDC", decimal.RequireFromString("0.998"), decimal.RequireFromString("1.002"), false)
	p.AddedAt = addedAt
	return p
}

func allOn() Options {
	return Options{Features: Features{OneHourWarning: true, BackInRangeAlert: true}}
}

func price(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestInsideStaysQuiet(t *testing.T) {
	e := NewEngine(allOn())
	p := testPool(base)
	for i := 0; i < 5; i++ {
		if events := e.Evaluate(p, price("1.000"), base.Add(time.Duration(i)*5*time.Minute)); len(events) != 0 {
			t.Fatalf("inside price should not emit, got %v", kinds(events))
		}
	}
	st, ok := e.State(p.ID)
	if !ok || st.Zone != ZoneInside {
		t.Fatalf("expected tracked inside state, got %+v (ok=%v)", st, ok)
	}
	if !st.InRangeSince.Equal(base) {
		t.Fatalf("first evaluation should seed InRangeSince with AddedAt, got %v", st.InRangeSince)
	}
}

func TestBreachFiresOncePerTransition(t *testing.T) {
	e := NewEngine(allOn())
	p := testPool(base)

	_ = e.Evaluate(p, price("1.000"), base)
	events := e.Evaluate(p, price("1.003"), base.Add(10*time.Minute))
	if len(events) != 1 || events[0].Kind != EventBreach {
		t.Fatalf("expected one breach, got %v", kinds(events))
	}
	if !events[0].Price.Equal(price("1.003")) || events[0].Pool.ID != p.ID {
		t.Fatalf("unexpected breach payload: %+v", events[0])
	}

	for i := 1; i <= 11; i++ {
		at := base.Add(10*time.Minute + time.Duration(i)*5*time.Minute)
		if events := e.Evaluate(p, price("1.004"), at); len(events) != 0 {
			t.Fatalf("cycle %d inside the hour should be silent, got %v", i, kinds(events))
		}
	}

	st, _ := e.State(p.ID)
	if st.Zone != ZoneOutside {
		t.Fatalf("expected outside, got %s", st.Zone)
	}
	if !st.OutsideSince.Equal(base.Add(10*time.Minute)) || !st.LastEscalationAt.Equal(st.OutsideSince) {
		t.Fatalf("unexpected outside timestamps: %+v", st)
	}
	if !st.InRangeSince.IsZero() {
		t.Fatalf("InRangeSince must be cleared while outside")
	}
	if st.AccumulatedInRange != 10*time.Minute {
		t.Fatalf("expected 10m folded into accumulator, got %v", st.AccumulatedInRange)
	}
}

func TestBreachBelowMin(t *testing.T) {
	e := NewEngine(allOn())
	p := testPool(base)
	events := e.Evaluate(p, price("0.9979"), base)
	if len(events) != 1 || events[0].Kind != EventBreach {
		t.Fatalf("price below min should breach, got %v", kinds(events))
	}
}

func TestEscalationOncePerHour(t *testing.T) {
	e := NewEngine(allOn())
	p := testPool(base)
	_ = e.Evaluate(p, price("1.01"), base)

	var escalations []Event
	for step := 1; step <= 12*3+1; step++ { // a bit over three hours of 5m cycles
		events := e.Evaluate(p, price("1.01"), base.Add(time.Duration(step)*5*time.Minute))
		for _, ev := range events {
			if ev.Kind != EventEscalation {
				t.Fatalf("unexpected %s while staying outside", ev.Kind)
			}
			escalations = append(escalations, ev)
		}
	}

	if len(escalations) != 3 {
		t.Fatalf("expected 3 escalations in ~3h, got %d", len(escalations))
	}
	for i, ev := range escalations {
		if ev.HoursOutside != i+1 {
			t.Fatalf("escalation %d should report %d hours, got %d", i, i+1, ev.HoursOutside)
		}
		if !ev.At.Equal(base.Add(time.Duration(i+1) * time.Hour)) {
			t.Fatalf("escalation %d fired at %v", i, ev.At)
		}
	}
}

func TestEscalationHoursFloor(t *testing.T) {
	e := NewEngine(allOn())
	p := testPool(base)
	_ = e.Evaluate(p, price("1.01"), base)

	// A late poll still reports whole hours outside.
	events := e.Evaluate(p, price("1.01"), base.Add(2*time.Hour+59*time.Minute))
	if len(events) != 1 || events[0].HoursOutside != 2 {
		t.Fatalf("expected one escalation with 2 hours, got %+v", events)
	}
}

func TestEscalationDisabled(t *testing.T) {
	opts := allOn()
	opts.Features.OneHourWarning = false
	e := NewEngine(opts)
	p := testPool(base)
	_ = e.Evaluate(p, price("1.01"), base)

	if events := e.Evaluate(p, price("1.01"), base.Add(3*time.Hour)); len(events) != 0 {
		t.Fatalf("escalation disabled should be silent, got %v", kinds(events))
	}
}

func TestEscalationCustomInterval(t *testing.T) {
	opts := allOn()
	opts.EscalationInterval = 30 * time.Minute
	e := NewEngine(opts)
	p := testPool(base)
	_ = e.Evaluate(p, price("1.01"), base)

	if events := e.Evaluate(p, price("1.01"), base.Add(29*time.Minute)); len(events) != 0 {
		t.Fatalf("expected silence before interval, got %v", kinds(events))
	}
	events := e.Evaluate(p, price("1.01"), base.Add(30*time.Minute))
	if len(events) != 1 || events[0].Kind != EventEscalation || events[0].HoursOutside != 0 {
		t.Fatalf("expected escalation with 0 whole hours, got %+v", events)
	}
}

func TestRecoveryFiresOnce(t *testing.T) {
	e := NewEngine(allOn())
	p := testPool(base)
	_ = e.Evaluate(p, price("1.01"), base)

	events := e.Evaluate(p, price("1.001"), base.Add(20*time.Minute))
	if len(events) != 1 || events[0].Kind != EventRecovery {
		t.Fatalf("expected one recovery, got %v", kinds(events))
	}
	if events := e.Evaluate(p, price("1.000"), base.Add(25*time.Minute)); len(events) != 0 {
		t.Fatalf("recovery must not repeat, got %v", kinds(events))
	}

	st, _ := e.State(p.ID)
	if st.Zone != ZoneInside || !st.InRangeSince.Equal(base.Add(20*time.Minute)) {
		t.Fatalf("unexpected state after recovery: %+v", st)
	}
	if !st.OutsideSince.IsZero() || !st.LastEscalationAt.IsZero() {
		t.Fatalf("outside timestamps must be cleared: %+v", st)
	}
}

func TestRecoverySuppressedWhenDisabled(t *testing.T) {
	opts := allOn()
	opts.Features.BackInRangeAlert = false
	e := NewEngine(opts)
	p := testPool(base)
	_ = e.Evaluate(p, price("1.01"), base)

	if events := e.Evaluate(p, price("1.0"), base.Add(5*time.Minute)); len(events) != 0 {
		t.Fatalf("recovery disabled should be silent, got %v", kinds(events))
	}
	st, _ := e.State(p.ID)
	if st.Zone != ZoneInside {
		t.Fatalf("zone must still transition to inside, got %s", st.Zone)
	}

	// A later breach is reported again.
	events := e.Evaluate(p, price("1.01"), base.Add(10*time.Minute))
	if len(events) != 1 || events[0].Kind != EventBreach {
		t.Fatalf("expected breach after silent recovery, got %v", kinds(events))
	}
}

func TestTotalInRange(t *testing.T) {
	e := NewEngine(allOn())
	p := testPool(base)
	e.Track(p.ID, base)

	interval := 5 * time.Minute
	var last time.Time
	for i := 1; i <= 24; i++ {
		last = base.Add(time.Duration(i) * interval)
		_ = e.Evaluate(p, price("1.0"), last)
	}
	if got := e.TotalInRange(p.ID, last); got != 2*time.Hour {
		t.Fatalf("expected 2h in range, got %v", got)
	}

	// An outside stretch does not count.
	_ = e.Evaluate(p, price("1.5"), last)
	_ = e.Evaluate(p, price("1.0"), last.Add(time.Hour))
	if got := e.TotalInRange(p.ID, last.Add(90*time.Minute)); got != 2*time.Hour+30*time.Minute {
		t.Fatalf("expected 2h30m in range, got %v", got)
	}
	if got := e.TotalInRange("0xunknown", last); got != 0 {
		t.Fatalf("untracked pool should report 0, got %v", got)
	}
}

func TestResetClearsHistory(t *testing.T) {
	e := NewEngine(allOn())
	p := testPool(base)
	_ = e.Evaluate(p, price("1.0"), base.Add(time.Hour))
	_ = e.Evaluate(p, price("1.5"), base.Add(2*time.Hour))

	editedAt := base.Add(3 * time.Hour)
	e.Reset(p.ID, editedAt)

	st, ok := e.State(p.ID)
	if !ok || st.Zone != ZoneInside || st.AccumulatedInRange != 0 || !st.InRangeSince.Equal(editedAt) {
		t.Fatalf("unexpected state after reset: %+v", st)
	}
	if got := e.TotalInRange(p.ID, editedAt.Add(time.Minute)); got != time.Minute {
		t.Fatalf("expected 1m after reset, got %v", got)
	}

	// A pool that was outside before the edit breaches again under the new bounds.
	events := e.Evaluate(p, price("1.5"), editedAt.Add(5*time.Minute))
	if len(events) != 1 || events[0].Kind != EventBreach {
		t.Fatalf("expected fresh breach after reset, got %v", kinds(events))
	}
}

func TestForgetStartsFresh(t *testing.T) {
	e := NewEngine(allOn())
	p := testPool(base)
	_ = e.Evaluate(p, price("1.5"), base.Add(time.Hour))

	e.Forget(p.ID)
	if _, ok := e.State(p.ID); ok {
		t.Fatal("state should be gone after Forget")
	}

	readded := testPool(base.Add(2 * time.Hour))
	e.Track(readded.ID, readded.AddedAt)
	st, _ := e.State(readded.ID)
	if st.Zone != ZoneInside || st.AccumulatedInRange != 0 {
		t.Fatalf("re-added pool should start fresh: %+v", st)
	}
	events := e.Evaluate(readded, price("1.5"), base.Add(2*time.Hour+5*time.Minute))
	if len(events) != 1 || events[0].Kind != EventBreach {
		t.Fatalf("re-added pool should breach again, got %v", kinds(events))
	}
}

func TestToggle(t *testing.T) {
	e := NewEngine(allOn())

	name, enabled, err := e.Toggle("1")
	if err != nil || name != FeatureOneHourWarning || enabled {
		t.Fatalf("toggle #1: name=%s enabled=%v err=%v", name, enabled, err)
	}
	name, enabled, err = e.Toggle("backinrangealert")
	if err != nil || name != FeatureBackInRangeAlert || enabled {
		t.Fatalf("toggle by name: name=%s enabled=%v err=%v", name, enabled, err)
	}
	if f := e.Features(); f.OneHourWarning || f.BackInRangeAlert {
		t.Fatalf("expected both off, got %+v", f)
	}
	if _, _, err := e.Toggle("3"); !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("expected ErrUnknownFeature, got %v", err)
	}
	if _, _, err := e.Toggle("sound"); !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("expected ErrUnknownFeature, got %v", err)
	}
}

func TestFeaturesGet(t *testing.T) {
	f := Features{OneHourWarning: true}
	if on, err := f.Get(FeatureOneHourWarning); err != nil || !on {
		t.Fatalf("unexpected: %v %v", on, err)
	}
	if on, err := f.Get(FeatureBackInRangeAlert); err != nil || on {
		t.Fatalf("unexpected: %v %v", on, err)
	}
	if _, err := f.Get("nope"); !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("expected ErrUnknownFeature, got %v", err)
	}
}
