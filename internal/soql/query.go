// Package soql builds remote query strings from the mapping graph. The wire
// format is fixed by the remote API's query parser: spaces are encoded as +,
// predicates are AND-combined, and id batches use the Id+in+('..','..') form.
// Everything in this package is a pure function of the mapping and the clock.
package soql

import (
	"strings"
	"time"

	"github.com/mesh-intelligence/sfmirror/pkg/types"
)

// relativeDateLayout is the second-precision UTC form the remote query parser
// accepts: no sub-second digits, literal Z suffix.
const relativeDateLayout = "2006-01-02T15:04:05"

// CompileFilter turns one filter rule into a predicate fragment
// "<remote-field><operator><value>", or "" when the rule has nothing to
// contribute. A computed form with an unset parameter is a normal state, not
// an error: the predicate is simply omitted. Precedence when several forms
// are configured: relative date, field comparison, literal.
func CompileFilter(m *types.Mapping, e *types.MappedEntity, f *types.MappedField, r *types.FilterRule, now time.Time) string {
	if r.DaysFromNow != nil {
		ts := now.Add(time.Duration(*r.DaysFromNow) * 24 * time.Hour)
		return fragment(f.Remote, r.Operator, ts.UTC().Format(relativeDateLayout)+"Z")
	}
	if r.CompareTo != "" {
		other := m.ResolveFieldRef(e, r.CompareTo)
		if other == nil {
			return ""
		}
		return fragment(f.Remote, r.Operator, other.Remote)
	}
	if r.Value == "" {
		return ""
	}
	return fragment(f.Remote, r.Operator, r.Value)
}

// fragment joins field, operator, and operand. Symbolic operators are
// concatenated directly (Name=x); word operators need space separators to be
// parseable (Status not in ('a','b')).
func fragment(field, op, value string) string {
	if isWordOperator(op) {
		return field + " " + op + " " + value
	}
	return field + op + value
}

func isWordOperator(op string) bool {
	for _, c := range op {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			return true
		}
	}
	return false
}

// WhereClause compiles every filter of every field of the entity, plus the
// optional extra predicate, into one AND-combined clause with spaces encoded
// as +. Returns "" when there is nothing to filter on.
func WhereClause(m *types.Mapping, e *types.MappedEntity, extra string, now time.Time) string {
	var preds []string
	for _, f := range e.Fields {
		for _, r := range f.Filters {
			if frag := CompileFilter(m, e, f, r, now); frag != "" {
				preds = append(preds, encode(frag))
			}
		}
	}
	if extra != "" {
		preds = append(preds, encode(extra))
	}
	return strings.Join(preds, "+AND+")
}

// BuildQuery composes the full remote query for one entity:
//
//	query?q=SELECT+<fields>+FROM+<remote>[+WHERE+<predicates>]
//
// The field list is the ordered, de-duplicated set of the entity's remote
// attribute names. extra is an already-encoded predicate the caller wants
// ANDed in, such as an id batch from a dependency sub-load.
func BuildQuery(m *types.Mapping, e *types.MappedEntity, extra string, now time.Time) string {
	parts := []string{"query?q=SELECT", strings.Join(selectFields(e), ","), "FROM", e.Remote}
	if where := WhereClause(m, e, extra, now); where != "" {
		parts = append(parts, "WHERE", where)
	}
	return strings.Join(parts, "+")
}

// RelatedQuery pairs a foreign-key target entity with the query that fetches
// exactly the rows the referencing entity points at.
type RelatedQuery struct {
	Target *types.MappedEntity
	Query  string
}

// RelatedQueries builds, for each foreign-key field of the entity, a query
// against the target entity constrained to the ids the entity actually
// references:
//
//	Id+in+(SELECT+<fk-field>+FROM+<remote>[+WHERE+<entity filters>])
func RelatedQueries(m *types.Mapping, e *types.MappedEntity, now time.Time) []RelatedQuery {
	var out []RelatedQuery
	where := WhereClause(m, e, "", now)
	for _, f := range e.ForeignKeys() {
		target := m.Entity(f.Target)
		if target == nil {
			continue
		}
		sub := "Id+in+(SELECT+" + f.Remote + "+FROM+" + e.Remote
		if where != "" {
			sub += "+WHERE+" + where
		}
		sub += ")"
		out = append(out, RelatedQuery{Target: target, Query: BuildQuery(m, target, sub, now)})
	}
	return out
}

// IDBatchPredicate builds the Id+in+('a','b') predicate for a dependency
// sub-load. The caller is responsible for keeping the batch under the remote
// query length limit.
func IDBatchPredicate(ids []string) string {
	return "Id+in+('" + strings.Join(ids, "','") + "')"
}

func selectFields(e *types.MappedEntity) []string {
	seen := make(map[string]bool, len(e.Fields))
	fields := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if !seen[f.Remote] {
			seen[f.Remote] = true
			fields = append(fields, f.Remote)
		}
	}
	return fields
}

// encode rewrites a predicate fragment into the wire form, where the remote
// API wants + in place of every space (multi-word operators included).
func encode(frag string) string {
	return strings.ReplaceAll(frag, " ", "+")
}
