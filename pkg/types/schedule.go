package types

import "time"

// Schedule units.
const (
	UnitHours  = "hours"
	UnitDays   = "days"
	UnitWeeks  = "weeks"
	UnitMonths = "months"
	UnitYears  = "years"
)

var validUnits = map[string]bool{
	UnitHours:  true,
	UnitDays:   true,
	UnitWeeks:  true,
	UnitMonths: true,
	UnitYears:  true,
}

// ScheduleEntry describes one recurrence rule for a mapping: every Frequency
// Units starting at Start, optionally ending at End. A mapping may carry
// several entries, e.g. a one-shot override next to a recurring rule; the
// earliest still-valid anchor across entries is the mapping's next due time.
type ScheduleEntry struct {
	Frequency int        `yaml:"frequency"`
	Unit      string     `yaml:"unit"`
	Start     time.Time  `yaml:"start"`
	End       *time.Time `yaml:"end,omitempty"`

	// NextIteration is the mutable anchor: the next instant this entry wants
	// a sync. Monotonic, persisted in the state store, advanced by the
	// evaluator after each completed refresh.
	NextIteration time.Time `yaml:"-"`
}

// Validate checks the entry's static configuration.
func (s *ScheduleEntry) Validate() error {
	if s.Frequency <= 0 {
		return ErrInvalidFrequency
	}
	if !validUnits[s.Unit] {
		return ErrInvalidUnit
	}
	if s.Start.IsZero() {
		return ErrScheduleStartZero
	}
	if s.End != nil && !s.End.After(s.Start) {
		return ErrScheduleEndOrder
	}
	return nil
}

// Ended reports whether the entry's end time is set and has passed.
func (s *ScheduleEntry) Ended(now time.Time) bool {
	return s.End != nil && s.End.Before(now)
}
