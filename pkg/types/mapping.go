package types

import (
	"fmt"
	"time"
)

// Mapping is one synchronization unit: a named set of entity mappings synced
// with one credential on one or more schedules. Runtime state (watermark,
// per-entity stats, schedule anchors) lives in the state store and is loaded
// onto these structs before a sync pass.
type Mapping struct {
	Name       string           `yaml:"name"`
	Credential string           `yaml:"credential"`
	Active     bool             `yaml:"active"`
	Entities   []*MappedEntity  `yaml:"entities"`
	Schedules  []*ScheduleEntry `yaml:"schedules"`

	// LastCompletedRefresh is the mapping watermark: the latest instant up to
	// which every entity in the mapping is known to be synchronized. Derived
	// from the entities' last-refresh times, never set from wall clock
	// directly.
	LastCompletedRefresh time.Time `yaml:"-"`
}

// MappedEntity maps one remote object type to one local record type.
type MappedEntity struct {
	Remote string         `yaml:"remote"`
	Local  string         `yaml:"local"`
	Fields []*MappedField `yaml:"fields"`

	// LastRefresh and RecordCount are monotonic stats maintained by the
	// loader. RecordCount is a cache of the local row count, only ever
	// raised so partial syncs do not make it flap.
	LastRefresh time.Time `yaml:"-"`
	RecordCount int64     `yaml:"-"`
}

// MappedField maps one remote attribute name to one local attribute name.
// A field with a non-empty Target is a foreign key: its value is the remote
// identity of a row of the entity with that local name.
type MappedField struct {
	Remote  string        `yaml:"remote"`
	Local   string        `yaml:"local"`
	Target  string        `yaml:"target,omitempty"`
	Filters []*FilterRule `yaml:"filters,omitempty"`
}

// Entity returns the entity with the given local name, or nil.
func (m *Mapping) Entity(local string) *MappedEntity {
	for _, e := range m.Entities {
		if e.Local == local {
			return e
		}
	}
	return nil
}

// Master returns the traversal root: the single entity that no field of any
// sibling entity targets. Self-references (an entity targeting itself, e.g. a
// user's manager) do not count as inbound edges.
func (m *Mapping) Master() (*MappedEntity, error) {
	targeted := make(map[string]bool)
	for _, e := range m.Entities {
		for _, f := range e.Fields {
			if f.Target != "" && f.Target != e.Local {
				targeted[f.Target] = true
			}
		}
	}

	var master *MappedEntity
	for _, e := range m.Entities {
		if targeted[e.Local] {
			continue
		}
		if master != nil {
			return nil, fmt.Errorf("%w: %s and %s", ErrMultipleMasters, master.Local, e.Local)
		}
		master = e
	}
	if master == nil {
		return nil, ErrNoMaster
	}
	return master, nil
}

// Validate checks the mapping configuration: names, operators, target and
// compare_to references, schedule parameters, master uniqueness, and that the
// foreign-key graph is acyclic. Self-referencing entities are allowed; cycles
// through two or more entities are rejected because the dependency resolver
// cannot terminate on them.
func (m *Mapping) Validate() error {
	if m.Name == "" {
		return ErrMappingNameEmpty
	}
	if m.Credential == "" {
		return fmt.Errorf("mapping %s: %w", m.Name, ErrCredentialEmpty)
	}
	if len(m.Entities) == 0 {
		return fmt.Errorf("mapping %s: %w", m.Name, ErrNoEntities)
	}

	seen := make(map[string]bool, len(m.Entities))
	for _, e := range m.Entities {
		if e.Remote == "" || e.Local == "" {
			return fmt.Errorf("mapping %s: %w", m.Name, ErrEntityNameEmpty)
		}
		if seen[e.Local] {
			return fmt.Errorf("mapping %s: %w: %s", m.Name, ErrDuplicateEntity, e.Local)
		}
		seen[e.Local] = true
	}

	for _, e := range m.Entities {
		for _, f := range e.Fields {
			if err := m.validateField(e, f); err != nil {
				return err
			}
		}
	}

	if _, err := m.Master(); err != nil {
		return fmt.Errorf("mapping %s: %w", m.Name, err)
	}
	if err := m.checkAcyclic(); err != nil {
		return fmt.Errorf("mapping %s: %w", m.Name, err)
	}

	for i, s := range m.Schedules {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("mapping %s: schedule %d: %w", m.Name, i, err)
		}
	}
	return nil
}

func (m *Mapping) validateField(e *MappedEntity, f *MappedField) error {
	if f.Remote == "" || f.Local == "" {
		return fmt.Errorf("mapping %s: entity %s: %w", m.Name, e.Local, ErrFieldNameEmpty)
	}
	if f.Target != "" && m.Entity(f.Target) == nil {
		return fmt.Errorf("mapping %s: entity %s: field %s: %w: %s",
			m.Name, e.Local, f.Local, ErrUnknownTarget, f.Target)
	}
	for _, r := range f.Filters {
		if !validOperators[r.Operator] {
			return fmt.Errorf("mapping %s: entity %s: field %s: %w: %q",
				m.Name, e.Local, f.Local, ErrInvalidOperator, r.Operator)
		}
		if r.CompareTo != "" {
			if m.ResolveFieldRef(e, r.CompareTo) == nil {
				return fmt.Errorf("mapping %s: entity %s: field %s: %w: %s",
					m.Name, e.Local, f.Local, ErrUnknownCompare, r.CompareTo)
			}
		}
	}
	return nil
}

// checkAcyclic runs a three-color depth-first search over the foreign-key
// edges, ignoring self-loops.
func (m *Mapping) checkAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(m.Entities))

	var visit func(e *MappedEntity) error
	visit = func(e *MappedEntity) error {
		color[e.Local] = grey
		for _, f := range e.Fields {
			if f.Target == "" || f.Target == e.Local {
				continue
			}
			next := m.Entity(f.Target)
			switch color[next.Local] {
			case grey:
				return fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, e.Local, next.Local)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[e.Local] = black
		return nil
	}

	for _, e := range m.Entities {
		if color[e.Local] == white {
			if err := visit(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// FieldByRemote returns the field mapping the given remote attribute name,
// or nil.
func (e *MappedEntity) FieldByRemote(remote string) *MappedField {
	for _, f := range e.Fields {
		if f.Remote == remote {
			return f
		}
	}
	return nil
}

// FieldByLocal returns the field mapping the given local attribute name,
// or nil.
func (e *MappedEntity) FieldByLocal(local string) *MappedField {
	for _, f := range e.Fields {
		if f.Local == local {
			return f
		}
	}
	return nil
}

// ForeignKeys returns the entity's fields that target another entity.
func (e *MappedEntity) ForeignKeys() []*MappedField {
	var fks []*MappedField
	for _, f := range e.Fields {
		if f.Target != "" {
			fks = append(fks, f)
		}
	}
	return fks
}

// Translate converts a raw remote record into a local record by renaming
// every mapped remote attribute to its local attribute. Remote attributes
// with no mapped field are dropped.
func (e *MappedEntity) Translate(raw RawRecord) Record {
	rec := make(Record, len(raw))
	for key, val := range raw {
		if f := e.FieldByRemote(key); f != nil {
			rec[f.Local] = val
		}
	}
	return rec
}

// ResolveFieldRef resolves a filter field reference of the form "field"
// (a local attribute of the entity at hand) or "entity.field" (a local
// attribute of a named sibling entity). Returns nil if the reference does
// not resolve.
func (m *Mapping) ResolveFieldRef(e *MappedEntity, ref string) *MappedField {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			target := m.Entity(ref[:i])
			if target == nil {
				return nil
			}
			return target.FieldByLocal(ref[i+1:])
		}
	}
	return e.FieldByLocal(ref)
}
