package types

import "time"

// Well-known attribute names. Every remote object carries an Id and a
// SystemModstamp; mappings are expected to map them to the local sfid and
// systemmodstamp attributes, which the upsert policy keys on.
const (
	RemoteIDField      = "Id"
	RemoteModstampName = "SystemModstamp"
	AttrRemoteID       = "sfid"
	AttrModstamp       = "systemmodstamp"
)

// RawRecord is one remote record as returned by the fetch client: remote
// attribute names to values. Ephemeral; never persisted as-is.
type RawRecord map[string]any

// Record is a translated record: local attribute names to values.
type Record map[string]any

// RemoteID returns the record's remote identity, or "" when absent or not a
// string. Records without a remote identity are skipped by the upsert policy.
func (r Record) RemoteID() string {
	id, _ := r[AttrRemoteID].(string)
	return id
}

// Modstamp returns the record's remote modification timestamp. ok is false
// when the attribute is absent or unparsable.
func (r Record) Modstamp() (t time.Time, ok bool) {
	s, _ := r[AttrModstamp].(string)
	if s == "" {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// timestampLayouts lists the wire formats the remote API emits, most common
// first. The +0000 form has no colon in the offset, so RFC3339 alone is not
// enough.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a remote timestamp string in any of the formats the
// remote API is known to emit.
func ParseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
