// Package query implements the datalog-style pattern matcher that sits
// on top of a storage snapshot: find/where/optional/where_not over
// (entity, attribute, value) patterns where any position may be a named
// variable, joined by backtracking over shared variable bindings.
package query

import "github.com/nainya/triplestore/internal/types"

// ElementKind tags what a PatternElement binds to.
type ElementKind int

const (
	ElemEntity ElementKind = iota
	ElemAttribute
	ElemValue
	ElemVariable
)

// PatternElement is one position of a Pattern: a literal entity,
// attribute, or value, or a named variable to bind/constrain against.
type PatternElement struct {
	Kind      ElementKind
	Entity    types.EntityID
	Attribute types.AttributeID
	Value     types.Value
	Variable  string
}

func EntityElem(id types.EntityID) PatternElement       { return PatternElement{Kind: ElemEntity, Entity: id} }
func AttributeElem(id types.AttributeID) PatternElement  { return PatternElement{Kind: ElemAttribute, Attribute: id} }
func ValueElem(v types.Value) PatternElement             { return PatternElement{Kind: ElemValue, Value: v} }
func Var(name string) PatternElement                    { return PatternElement{Kind: ElemVariable, Variable: name} }

// Pattern is one (entity, attribute, value) triple pattern, each
// position independently literal or variable.
type Pattern struct {
	Entity    PatternElement
	Attribute PatternElement
	Value     PatternElement
}

// NewPattern builds a pattern from its three positions.
func NewPattern(entity, attribute, value PatternElement) Pattern {
	return Pattern{Entity: entity, Attribute: attribute, Value: value}
}

// DatomKind tags what a bound Datom holds.
type DatomKind int

const (
	DatomEntity DatomKind = iota
	DatomAttribute
	DatomValue
)

// Datom is a single bound query result cell: the entity, attribute, or
// value a variable was resolved to while matching a pattern.
type Datom struct {
	Kind      DatomKind
	Entity    types.EntityID
	Attribute types.AttributeID
	Value     types.Value
}

func EntityDatom(id types.EntityID) Datom       { return Datom{Kind: DatomEntity, Entity: id} }
func AttributeDatom(id types.AttributeID) Datom { return Datom{Kind: DatomAttribute, Attribute: id} }
func ValueDatom(v types.Value) Datom            { return Datom{Kind: DatomValue, Value: v} }

// Equal reports whether two datoms carry the same bound value.
func (d Datom) Equal(other Datom) bool {
	if d.Kind != other.Kind {
		return false
	}
	switch d.Kind {
	case DatomEntity:
		return d.Entity == other.Entity
	case DatomAttribute:
		return d.Attribute == other.Attribute
	default:
		return d.Value.Equal(other.Value)
	}
}

// Query is a find/where/optional/where_not clause set: find names the
// variables to project into the result, where is a conjunction of
// required patterns, optional is a left join, and where_not is an
// anti-join (a match excludes the binding instead of extending it).
type Query struct {
	FindVars         []string
	WherePatterns    []Pattern
	OptionalPatterns []Pattern
	WhereNotPatterns []Pattern
}

// NewQuery returns an empty query ready for fluent construction.
func NewQuery() *Query { return &Query{} }

// Find adds variables to the result projection.
func (q *Query) Find(vars ...string) *Query {
	q.FindVars = append(q.FindVars, vars...)
	return q
}

// WherePattern adds a required pattern.
func (q *Query) WherePattern(p Pattern) *Query {
	q.WherePatterns = append(q.WherePatterns, p)
	return q
}

// Optional adds a left-join pattern: unmatched variables appear as
// undefined in the result rather than excluding the binding.
func (q *Query) Optional(p Pattern) *Query {
	q.OptionalPatterns = append(q.OptionalPatterns, p)
	return q
}

// WhereNot adds an anti-join pattern: any binding for which p matches is
// excluded from the result.
func (q *Query) WhereNot(p Pattern) *Query {
	q.WhereNotPatterns = append(q.WhereNotPatterns, p)
	return q
}

// Result is the column/row projection of a Query's matched bindings.
// A nil cell means the corresponding find variable never got bound
// (possible when it appears in no Where pattern: only in Optional or
// WhereNot patterns, or in none at all).
type Result struct {
	Columns []string
	Rows    [][]*Datom
}
