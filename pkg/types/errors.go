package types

import "errors"

// Mapping configuration errors. These surface at mapping-load time so that a
// broken configuration fails loudly before a sync pass starts, rather than
// silently skipping fields mid-sync.
var (
	ErrMappingNameEmpty  = errors.New("mapping name must not be empty")
	ErrCredentialEmpty   = errors.New("mapping credential must not be empty")
	ErrNoEntities        = errors.New("mapping has no entities")
	ErrEntityNameEmpty   = errors.New("entity remote and local names must not be empty")
	ErrDuplicateEntity   = errors.New("duplicate entity local name")
	ErrFieldNameEmpty    = errors.New("field remote and local names must not be empty")
	ErrUnknownTarget     = errors.New("field target does not name an entity in this mapping")
	ErrUnknownCompare    = errors.New("filter compare_to does not name a field in this mapping")
	ErrInvalidOperator   = errors.New("unknown filter operator")
	ErrNoMaster          = errors.New("mapping has no master entity")
	ErrMultipleMasters   = errors.New("mapping has more than one master entity")
	ErrDependencyCycle   = errors.New("entity dependency graph contains a cycle")
	ErrUnknownEntity     = errors.New("unknown entity")
	ErrInvalidFrequency  = errors.New("schedule frequency must be positive")
	ErrInvalidUnit       = errors.New("unknown schedule unit")
	ErrScheduleStartZero = errors.New("schedule start must be set")
	ErrScheduleEndOrder  = errors.New("schedule end must be after start")
)

// Runtime errors shared across packages.
var (
	// ErrSyncInProgress is returned when a sync is requested for a mapping
	// that already has one running.
	ErrSyncInProgress = errors.New("sync already in progress for mapping")

	// ErrNotFound is returned by store lookups that match no row.
	ErrNotFound = errors.New("not found")
)
