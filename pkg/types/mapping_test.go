package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMapping returns a valid two-entity mapping where serviceorder
// references account.
func testMapping() *Mapping {
	return &Mapping{
		Name:       "orders",
		Credential: "prod",
		Active:     true,
		Entities: []*MappedEntity{
			{
				Remote: "Account",
				Local:  "account",
				Fields: []*MappedField{
					{Remote: "Id", Local: "sfid"},
					{Remote: "SystemModstamp", Local: "systemmodstamp"},
					{Remote: "Name", Local: "name"},
				},
			},
			{
				Remote: "SVMXC__Service_Order__c",
				Local:  "serviceorder",
				Fields: []*MappedField{
					{Remote: "Id", Local: "sfid"},
					{Remote: "SystemModstamp", Local: "systemmodstamp"},
					{Remote: "SVMXC__Company__c", Local: "company", Target: "account"},
				},
			},
		},
		Schedules: []*ScheduleEntry{
			{Frequency: 1, Unit: UnitDays, Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func TestMappingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Mapping)
		wantErr error
	}{
		{
			name:   "valid mapping",
			mutate: func(m *Mapping) {},
		},
		{
			name:    "empty name",
			mutate:  func(m *Mapping) { m.Name = "" },
			wantErr: ErrMappingNameEmpty,
		},
		{
			name:    "empty credential",
			mutate:  func(m *Mapping) { m.Credential = "" },
			wantErr: ErrCredentialEmpty,
		},
		{
			name:    "no entities",
			mutate:  func(m *Mapping) { m.Entities = nil },
			wantErr: ErrNoEntities,
		},
		{
			name:    "empty entity name",
			mutate:  func(m *Mapping) { m.Entities[0].Remote = "" },
			wantErr: ErrEntityNameEmpty,
		},
		{
			name:    "duplicate entity local name",
			mutate:  func(m *Mapping) { m.Entities[1].Local = "account" },
			wantErr: ErrDuplicateEntity,
		},
		{
			name:    "empty field name",
			mutate:  func(m *Mapping) { m.Entities[0].Fields[2].Local = "" },
			wantErr: ErrFieldNameEmpty,
		},
		{
			name:    "unknown target",
			mutate:  func(m *Mapping) { m.Entities[1].Fields[2].Target = "contact" },
			wantErr: ErrUnknownTarget,
		},
		{
			name: "unknown operator",
			mutate: func(m *Mapping) {
				m.Entities[0].Fields[2].Filters = []*FilterRule{{Operator: "~=", Value: "x"}}
			},
			wantErr: ErrInvalidOperator,
		},
		{
			name: "unresolvable compare_to",
			mutate: func(m *Mapping) {
				m.Entities[0].Fields[2].Filters = []*FilterRule{
					{Operator: OpEquals, CompareTo: "nosuch"},
				}
			},
			wantErr: ErrUnknownCompare,
		},
		{
			name: "two-entity cycle has no master",
			mutate: func(m *Mapping) {
				m.Entities[0].Fields = append(m.Entities[0].Fields,
					&MappedField{Remote: "Primary_Order__c", Local: "order", Target: "serviceorder"})
			},
			wantErr: ErrNoMaster,
		},
		{
			name: "bad schedule frequency",
			mutate: func(m *Mapping) {
				m.Schedules[0].Frequency = 0
			},
			wantErr: ErrInvalidFrequency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMapping()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestMappingValidateCycleBelowMaster(t *testing.T) {
	m := testMapping()
	// serviceorder -> account stays; add contact <-> account below the master.
	m.Entities = append(m.Entities, &MappedEntity{
		Remote: "Contact",
		Local:  "contact",
		Fields: []*MappedField{
			{Remote: "Id", Local: "sfid"},
			{Remote: "AccountId", Local: "account", Target: "account"},
		},
	})
	m.Entities[0].Fields = append(m.Entities[0].Fields,
		&MappedField{Remote: "Primary_Contact__c", Local: "primary_contact", Target: "contact"})

	assert.ErrorIs(t, m.Validate(), ErrDependencyCycle)
}

func TestMappingMaster(t *testing.T) {
	// serviceorder targets account, so account has an inbound edge and the
	// untargeted serviceorder is the traversal root.
	m := testMapping()
	master, err := m.Master()
	require.NoError(t, err)
	assert.Equal(t, "serviceorder", master.Local)
}

func TestMappingMasterIgnoresSelfReference(t *testing.T) {
	m := &Mapping{
		Name:       "users",
		Credential: "prod",
		Entities: []*MappedEntity{
			{
				Remote: "User",
				Local:  "sfuser",
				Fields: []*MappedField{
					{Remote: "Id", Local: "sfid"},
					{Remote: "ManagerId", Local: "manager", Target: "sfuser"},
				},
			},
		},
	}
	master, err := m.Master()
	require.NoError(t, err)
	assert.Equal(t, "sfuser", master.Local)
	assert.NoError(t, m.Validate())
}

func TestTranslateDropsUnmappedAttributes(t *testing.T) {
	m := testMapping()
	e := m.Entity("account")
	rec := e.Translate(RawRecord{
		"Id":             "001xx0000001",
		"Name":           "Acme",
		"SystemModstamp": "2026-01-02T03:04:05.000+0000",
		"BillingCity":    "dropped",
	})

	assert.Equal(t, Record{
		"sfid":           "001xx0000001",
		"name":           "Acme",
		"systemmodstamp": "2026-01-02T03:04:05.000+0000",
	}, rec)
}

func TestResolveFieldRef(t *testing.T) {
	m := testMapping()
	so := m.Entity("serviceorder")

	assert.Equal(t, "SVMXC__Company__c", m.ResolveFieldRef(so, "company").Remote)
	assert.Equal(t, "Name", m.ResolveFieldRef(so, "account.name").Remote)
	assert.Nil(t, m.ResolveFieldRef(so, "account.nosuch"))
	assert.Nil(t, m.ResolveFieldRef(so, "nosuch.name"))
	assert.Nil(t, m.ResolveFieldRef(so, ""))
}

func TestForeignKeys(t *testing.T) {
	m := testMapping()
	fks := m.Entity("serviceorder").ForeignKeys()
	require.Len(t, fks, 1)
	assert.Equal(t, "account", fks[0].Target)
	assert.Empty(t, m.Entity("account").ForeignKeys())
}
