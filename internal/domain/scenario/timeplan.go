package scenario

import (
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/domain/identifier"
)

// Anchor modes of a time plan.
const (
	AnchorSliding = "sliding"
	AnchorFixed   = "fixed"
	AnchorNone    = "none"
)

// Timeplan shifts a template's snapshot timeline onto the wall clock.
type Timeplan struct {
	// Anchor picks the first step's base: sliding = now + OffsetDays,
	// fixed = FixedStart, none = the captured snapshot timeline.
	Anchor     string    `json:"anchor"`
	OffsetDays int       `json:"offset_days,omitempty"`
	FixedStart time.Time `json:"fixed_start,omitempty"`
	// PreserveIntervals keeps the captured inter-step delays; false
	// collapses every step onto the anchor.
	PreserveIntervals bool `json:"preserve_intervals"`
	// Jitter bounds in minutes, applied independently per step.
	JitterMinMinutes int `json:"jitter_min_minutes,omitempty"`
	JitterMaxMinutes int `json:"jitter_max_minutes,omitempty"`
}

// Schedule computes the wall-clock time of every step.
func (tp Timeplan) Schedule(t *Template, now time.Time, rng identifier.Rand) []time.Time {
	var base time.Time
	switch tp.Anchor {
	case AnchorFixed:
		base = tp.FixedStart
	case AnchorNone:
		base = t.CapturedStart
	default:
		base = now.Add(time.Duration(tp.OffsetDays) * 24 * time.Hour)
	}

	out := make([]time.Time, len(t.Steps))
	cur := base
	for i, st := range t.Steps {
		if i > 0 && tp.PreserveIntervals {
			cur = cur.Add(time.Duration(st.DelaySeconds) * time.Second)
		}
		ts := cur
		// Equal nonzero bounds degenerate into a constant offset.
		if span := tp.JitterMaxMinutes - tp.JitterMinMinutes; span >= 0 && tp.JitterMaxMinutes > 0 {
			ts = ts.Add(time.Duration(int64(tp.JitterMinMinutes)+rng.Int63n(int64(span)+1)) * time.Minute)
		}
		out[i] = ts
	}
	return out
}
