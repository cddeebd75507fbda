package types

// Filter operators, in the remote query dialect. Stored verbatim in mapping
// files and emitted verbatim into query predicates.
const (
	OpEquals         = "="
	OpNotEquals      = "!="
	OpLessThan       = "<"
	OpLessOrEqual    = "<="
	OpGreaterOrEqual = ">="
	OpGreaterThan    = ">"
	OpStartsWith     = "StartsWith"
	OpContains       = "Contains"
	OpEndsWith       = "EndsWith"
	OpIn             = "in"
	OpNotIn          = "not in"
	OpIncludes       = "includes"
	OpExcludes       = "excludes"
)

// validOperators is the closed set of operators accepted by Validate.
var validOperators = map[string]bool{
	OpEquals:         true,
	OpNotEquals:      true,
	OpLessThan:       true,
	OpLessOrEqual:    true,
	OpGreaterOrEqual: true,
	OpGreaterThan:    true,
	OpStartsWith:     true,
	OpContains:       true,
	OpEndsWith:       true,
	OpIn:             true,
	OpNotIn:          true,
	OpIncludes:       true,
	OpExcludes:       true,
}

// FilterRule is a predicate attached to a mapped field. Exactly one of the
// three value forms is meant to be configured; when more than one is set the
// compiler picks the first in this order: relative date (DaysFromNow), field
// comparison (CompareTo), literal (Value). A computed form whose parameter is
// unset compiles to nothing, which simply omits the predicate.
type FilterRule struct {
	Operator string `yaml:"op"`

	// Value is a literal operand, used verbatim.
	Value string `yaml:"value,omitempty"`

	// DaysFromNow is the relative-date form: the operand is now plus this
	// many days (negative for the past), serialized as a UTC timestamp.
	DaysFromNow *int `yaml:"days_from_now,omitempty"`

	// CompareTo is the field-comparison form: the operand is the remote
	// attribute name of another mapped field, referenced as "field" or
	// "entity.field".
	CompareTo string `yaml:"compare_to,omitempty"`
}
