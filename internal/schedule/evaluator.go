// Package schedule decides when a mapping is due for a sync and advances the
// per-entry anchor afterwards. The evaluator keeps no state of its own: the
// anchor lives on the ScheduleEntry and is persisted through the AnchorStore
// so due-ness survives process restarts without drift.
package schedule

import (
	"fmt"
	"time"

	"github.com/mesh-intelligence/sfmirror/pkg/types"
)

// AnchorStore persists schedule anchors. Entries are keyed by mapping name
// and their ordinal position in the mapping's schedule list.
type AnchorStore interface {
	SaveAnchor(mapping string, entry int, next time.Time) error
}

// Evaluator evaluates schedule entries against a clock.
type Evaluator struct {
	store AnchorStore
	now   func() time.Time
}

// New returns an Evaluator backed by the given anchor store. now may be nil,
// in which case the wall clock is used.
func New(store AnchorStore, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{store: store, now: now}
}

// IsDue reports whether the mapping's schedule entry at index idx wants a
// sync now.
//
// The entry is not due when its end has passed, its start is in the future,
// or the mapping is inactive. An unset anchor (or one preceding start) is
// snapped to start and persisted. A mapping that has never completed a
// refresh is always due. Otherwise the next expected refresh is one unit
// after the mapping's watermark, clamped so it never exceeds the anchor, and
// the entry is due when that instant has passed.
func (ev *Evaluator) IsDue(m *types.Mapping, idx int) (bool, error) {
	entry := m.Schedules[idx]
	now := ev.now()

	if entry.Ended(now) {
		return false, nil
	}
	if entry.Start.After(now) {
		return false, nil
	}
	if !m.Active {
		return false, nil
	}

	if entry.NextIteration.IsZero() || entry.NextIteration.Before(entry.Start) {
		entry.NextIteration = entry.Start
		if err := ev.store.SaveAnchor(m.Name, idx, entry.NextIteration); err != nil {
			return false, fmt.Errorf("save anchor for %s[%d]: %w", m.Name, idx, err)
		}
	}

	if m.LastCompletedRefresh.IsZero() {
		return true, nil
	}

	expected := Advance(m.LastCompletedRefresh, entry.Frequency, entry.Unit)
	if expected.After(entry.NextIteration) {
		expected = entry.NextIteration
	}
	return expected.Before(now), nil
}

// OnRefreshCompleted advances the entry's anchor past now, one unit at a
// time, persisting each step so an interrupted catch-up resumes where it
// stopped instead of replaying missed ticks.
func (ev *Evaluator) OnRefreshCompleted(m *types.Mapping, idx int) error {
	entry := m.Schedules[idx]
	now := ev.now()

	for entry.NextIteration.Before(now) {
		entry.NextIteration = Advance(entry.NextIteration, entry.Frequency, entry.Unit)
		if err := ev.store.SaveAnchor(m.Name, idx, entry.NextIteration); err != nil {
			return fmt.Errorf("save anchor for %s[%d]: %w", m.Name, idx, err)
		}
	}
	return nil
}

// NextDue returns the earliest still-valid anchor across the mapping's
// entries, falling back to an entry's start when its anchor is unset. ok is
// false when every entry has ended or the mapping has no schedules.
func (ev *Evaluator) NextDue(m *types.Mapping) (next time.Time, ok bool) {
	now := ev.now()
	for _, entry := range m.Schedules {
		if entry.Ended(now) {
			continue
		}
		candidate := entry.NextIteration
		if candidate.IsZero() || candidate.Before(entry.Start) {
			candidate = entry.Start
		}
		if !ok || candidate.Before(next) {
			next, ok = candidate, true
		}
	}
	return next, ok
}

// Advance moves a timestamp forward by frequency units. Hours, days, and
// weeks are fixed-duration additions, a week being exactly seven days. Months
// increment the month field, rolling the year on overflow; years increment
// the year field. In both calendar cases the day-of-month is clamped to the
// last valid day of the target month, so Jan 31 plus one month lands on the
// end of February rather than overflowing into March.
func Advance(t time.Time, frequency int, unit string) time.Time {
	switch unit {
	case types.UnitHours:
		return t.Add(time.Duration(frequency) * time.Hour)
	case types.UnitDays:
		return t.Add(time.Duration(frequency) * 24 * time.Hour)
	case types.UnitWeeks:
		return t.Add(time.Duration(frequency) * 7 * 24 * time.Hour)
	case types.UnitMonths:
		return addMonths(t, frequency)
	case types.UnitYears:
		return addMonths(t, 12*frequency)
	default:
		return t
	}
}

func addMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	total := int(month) - 1 + n
	year += total / 12
	month = time.Month(total%12 + 1)

	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month; day 0 of the next
// month normalizes to the last day of this one.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
