package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"rangewatch/internal/registry"
)

// DefaultEscalationInterval separates "still outside" reminders.
const DefaultEscalationInterval = time.Hour

// Zone classifies a pool price against its bounds.
type Zone int

const (
	ZoneInside Zone = iota
	ZoneOutside
)

func (z Zone) String() string {
	if z == ZoneOutside {
		return "outside"
	}
	return "inside"
}

// EventKind names the notification an evaluation produced.
type EventKind string

const (
	EventBreach     EventKind = "breach"
	EventEscalation EventKind = "escalation"
	EventRecovery   EventKind = "recovery"
)

// Event is a notification decided by the engine.
type Event struct {
	Kind         EventKind
	Pool         registry.PoolConfig
	Price        decimal.Decimal
	At           time.Time
	HoursOutside int
}

// AlertState is the tracking record of one pool.
// OutsideSince and LastEscalationAt are set only while outside; InRangeSince
// only while inside.
type AlertState struct {
	Zone               Zone
	OutsideSince       time.Time
	LastEscalationAt   time.Time
	InRangeSince       time.Time
	AccumulatedInRange time.Duration
}

// Engine owns per-pool alert state and decides transitions.
// It is not safe for concurrent use.
type Engine struct {
	states     map[string]*AlertState
	features   Features
	escalation time.Duration
}

// Options tune the engine.
type Options struct {
	Features           Features
	EscalationInterval time.Duration
}

// NewEngine constructs an engine with no tracked pools.
func NewEngine(opts Options) *Engine {
	escalation := opts.EscalationInterval
	if escalation <= 0 {
		escalation = DefaultEscalationInterval
	}
	return &Engine{
		states:     make(map[string]*AlertState),
		features:   opts.Features,
		escalation: escalation,
	}
}

// Evaluate applies one price observation to the pool's state and returns the
// events to dispatch, if any.
func (e *Engine) Evaluate(pool registry.PoolConfig, price decimal.Decimal, now time.Time) []Event {
	st := e.stateFor(pool.ID, pool.AddedAt)
	outside := pool.Outside(price)

	switch st.Zone {
	case ZoneInside:
		if !outside {
			return nil
		}
		st.AccumulatedInRange += elapsed(st.InRangeSince, now)
		st.Zone = ZoneOutside
		st.OutsideSince = now
		st.LastEscalationAt = now
		st.InRangeSince = time.Time{}
		return []Event{{Kind: EventBreach, Pool: pool, Price: price, At: now}}

	case ZoneOutside:
		if outside {
			if !e.features.OneHourWarning || now.Sub(st.LastEscalationAt) < e.escalation {
				return nil
			}
			st.LastEscalationAt = now
			hours := int(now.Sub(st.OutsideSince) / time.Hour)
			return []Event{{Kind: EventEscalation, Pool: pool, Price: price, At: now, HoursOutside: hours}}
		}
		st.Zone = ZoneInside
		st.OutsideSince = time.Time{}
		st.LastEscalationAt = time.Time{}
		st.InRangeSince = now
		if !e.features.BackInRangeAlert {
			return nil
		}
		return []Event{{Kind: EventRecovery, Pool: pool, Price: price, At: now}}
	}
	return nil
}

// Track starts an Inside run for a newly added pool.
func (e *Engine) Track(id string, at time.Time) {
	e.states[id] = &AlertState{Zone: ZoneInside, InRangeSince: at}
}

// Reset discards history and restarts the pool Inside at the given time.
func (e *Engine) Reset(id string, at time.Time) {
	e.Track(id, at)
}

// Forget drops all tracking state of a pool.
func (e *Engine) Forget(id string) {
	delete(e.states, id)
}

// State returns a copy of the pool's state and whether it is tracked.
func (e *Engine) State(id string) (AlertState, bool) {
	st, ok := e.states[id]
	if !ok {
		return AlertState{}, false
	}
	return *st, true
}

// TotalInRange returns the time the pool has spent inside its bounds,
// including the current run.
func (e *Engine) TotalInRange(id string, now time.Time) time.Duration {
	st, ok := e.states[id]
	if !ok {
		return 0
	}
	total := st.AccumulatedInRange
	if st.Zone == ZoneInside {
		total += elapsed(st.InRangeSince, now)
	}
	return total
}

// Features returns the current toggles.
func (e *Engine) Features() Features {
	return e.features
}

// Toggle flips a feature by name or number and returns its new state.
func (e *Engine) Toggle(ref string) (string, bool, error) {
	name, err := ResolveFeature(ref)
	if err != nil {
		return "", false, err
	}
	enabled, err := e.features.flip(name)
	return name, enabled, err
}

func (e *Engine) stateFor(id string, addedAt time.Time) *AlertState {
	st, ok := e.states[id]
	if !ok {
		st = &AlertState{Zone: ZoneInside, InRangeSince: addedAt}
		e.states[id] = st
	}
	return st
}

func elapsed(since, now time.Time) time.Duration {
	if since.IsZero() || now.Before(since) {
		return 0
	}
	return now.Sub(since).Truncate(time.Millisecond)
}
