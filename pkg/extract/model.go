// SPDX-License-Identifier: Apache-2.0

package extract

import "github.com/pgunmask/pgunmask/pkg/sqltype"

// Relation is a single table considered by the pipeline, tagged with
// whether it actually contributes rows to the hidden query's result
// (Core) once the from-clause extraction stage has run.
type Relation struct {
	Name string
	Core bool
}

// Attribute identifies a single column of a single table.
type Attribute struct {
	Table  string
	Column string
	Kind   sqltype.Kind
}

func (a Attribute) String() string { return a.Table + "." + a.Column }

// JoinEdge is a single recovered equi-join condition between two attributes,
// surfaced by the join extractor once a key clique has been tested and
// (if possible) split.
type JoinEdge struct {
	Left  Attribute
	Right Attribute
}

// FilterOp is a WHERE-clause comparison operator.
type FilterOp string

const (
	OpEqual        FilterOp = "="
	OpNotEqual     FilterOp = "<>"
	OpLess         FilterOp = "<"
	OpLessEqual    FilterOp = "<="
	OpGreater      FilterOp = ">"
	OpGreaterEqual FilterOp = ">="
)

// FilterPredicate is a single WHERE-clause predicate recovered by the
// predicate extractor: one comparison of Attrib against Value. A range
// recovered via binary search is recorded as two predicates (>= lower and
// <= upper); a range that collapses to a single point is recorded as one
// OpEqual predicate.
type FilterPredicate struct {
	Attrib Attribute
	Op     FilterOp
	Value  sqltype.Value
}

// AggregateFn names the five aggregate functions the aggregation extractor
// distinguishes between.
type AggregateFn string

const (
	AggSum   AggregateFn = "SUM"
	AggAvg   AggregateFn = "AVG"
	AggMin   AggregateFn = "MIN"
	AggMax   AggregateFn = "MAX"
	AggCount AggregateFn = "COUNT"
)

// HavingPredicate is a single HAVING-clause predicate over an aggregate
// expression, recovered by the predicate extractor's full disambiguation
// pass. Separable marks a MIN/MAX aggregate predicate that the predicate
// separator has determined could equivalently be expressed as a WHERE
// filter on the unaggregated attribute.
type HavingPredicate struct {
	Fn         AggregateFn
	Attrib     Attribute
	Op         FilterOp
	Value      sqltype.Value
	Separable  bool
	AsFilter   *FilterPredicate
}

// Projection is a single output column of the hidden query's SELECT list.
//
// Kind distinguishes three possibilities recovered by the projection
// extractor: a constant column (Deps empty, Const set), a verbatim base
// attribute (Deps has exactly one entry with coefficient 1 and no other
// term), or a polynomial combination of one or more attributes (the general
// case, described by Deps and rendered through Expr).
type ProjectionKind int

const (
	ProjConstant ProjectionKind = iota
	ProjAttribute
	ProjPolynomial
)

// Projection describes one recovered output column.
type Projection struct {
	Name       string
	Kind       ProjectionKind
	Const      sqltype.Value
	Deps       []Attribute
	Expr       string
	Aggregate  AggregateFn // empty if the projection is not aggregated
	GroupByKey bool        // true if this projection is one of the GROUP BY keys
}

// OrderByItem is one element of a recovered ORDER BY clause.
type OrderByItem struct {
	ProjectionIndex int
	Descending      bool
}
