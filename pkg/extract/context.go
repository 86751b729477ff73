// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/pgunmask/pgunmask/pkg/db"
	"github.com/pgunmask/pgunmask/pkg/schema"
)

// Context is the shared, mutable fact base every pipeline stage reads from
// and writes to. Each stage's Set* method may be called at most once; it
// panics on a second call, since a stage re-running over an
// already-populated fact almost always indicates the pipeline was driven
// out of order.
//
// This mirrors the reference implementation's UnmasqueContext: a single
// struct accumulating facts as stages run in a fixed order, plus per-stage
// timing so a full run can report where the time went.
type Context struct {
	Conn        db.DB
	Schema      string
	HiddenQuery string
	KeyGraph    *schema.KeyGraph
	log         Logger

	// populated by from.go
	relationsSet bool
	Relations    []Relation

	// populated by metadata.go
	metadataSet bool
	Attributes  map[string][]Attribute // table -> attributes

	// populated by sampler.go
	sampledSet bool

	// populated by minimizer.go
	minimizedSet bool

	// populated by join.go
	joinSet    bool
	Cliques    []schema.KeyClique
	JoinGraph  []JoinEdge

	// populated by groupby.go
	groupBySet  bool
	GroupByKeys []Attribute

	// populated by predicate.go
	predicatesSet    bool
	FilterPredicates []FilterPredicate
	HavingPredicates []HavingPredicate

	// populated by separator.go
	separatedSet bool

	// populated by projection.go
	projectionsSet bool
	Projections    []Projection

	// populated by aggregation.go
	aggregationSet bool

	// populated by orderby.go
	orderBySet  bool
	OrderBy     []OrderByItem
	OrderByDone bool // whether an orderby was confidently recovered at all

	timings []timing
}

type timing struct {
	Stage string
	Took  time.Duration
}

// NewContext constructs an empty Context ready for the pipeline to run
// stages against.
func NewContext(conn db.DB, schemaName, hiddenQuery string, keyGraph *schema.KeyGraph) *Context {
	return &Context{
		Conn:        conn,
		Schema:      schemaName,
		HiddenQuery: hiddenQuery,
		KeyGraph:    keyGraph,
		Attributes:  make(map[string][]Attribute),
		log:         NewNoopLogger(),
	}
}

// Logger returns the logger stages should report warnings and progress
// through.
func (c *Context) Logger() Logger { return c.log }

// SetLogger overrides the context's logger; called once by Pipeline.Run
// before any stage executes.
func (c *Context) SetLogger(l Logger) { c.log = l }

func (c *Context) recordTiming(stage string, took time.Duration) {
	c.timings = append(c.timings, timing{Stage: stage, Took: took})
}

// SetRelations records the from-clause extraction result. May be called
// only once.
func (c *Context) SetRelations(rels []Relation) {
	if c.relationsSet {
		panic("extract: SetRelations called twice")
	}
	c.Relations = rels
	c.relationsSet = true
}

// CoreRelations returns the subset of Relations marked Core.
func (c *Context) CoreRelations() []string {
	var out []string
	for _, r := range c.Relations {
		if r.Core {
			out = append(out, r.Name)
		}
	}
	return out
}

// SetAttributes records the metadata extraction result.
func (c *Context) SetAttributes(attrs map[string][]Attribute) {
	if c.metadataSet {
		panic("extract: SetAttributes called twice")
	}
	c.Attributes = attrs
	c.metadataSet = true
}

// SetSampled marks the correlated sampling stage complete. It carries no
// payload: sampling only shrinks the backing tables in place.
func (c *Context) SetSampled() {
	if c.sampledSet {
		panic("extract: SetSampled called twice")
	}
	c.sampledSet = true
}

// SetMinimized marks the minimization stage complete.
func (c *Context) SetMinimized() {
	if c.minimizedSet {
		panic("extract: SetMinimized called twice")
	}
	c.minimizedSet = true
}

// SetJoinGraph records the join extraction result.
func (c *Context) SetJoinGraph(cliques []schema.KeyClique, edges []JoinEdge) {
	if c.joinSet {
		panic("extract: SetJoinGraph called twice")
	}
	c.Cliques = cliques
	c.JoinGraph = edges
	c.joinSet = true
}

// SetGroupByKeys records the group-by extraction result. An empty slice is
// a valid, meaningful result: the hidden query has no GROUP BY.
func (c *Context) SetGroupByKeys(keys []Attribute) {
	if c.groupBySet {
		panic("extract: SetGroupByKeys called twice")
	}
	c.GroupByKeys = keys
	c.groupBySet = true
}

// HasGroupBy reports whether group-by extraction found any grouping keys.
func (c *Context) HasGroupBy() bool {
	return c.groupBySet && len(c.GroupByKeys) > 0
}

// SetPredicates records the predicate extraction result.
func (c *Context) SetPredicates(filters []FilterPredicate, having []HavingPredicate) {
	if c.predicatesSet {
		panic("extract: SetPredicates called twice")
	}
	c.FilterPredicates = filters
	c.HavingPredicates = having
	c.predicatesSet = true
}

// SetSeparated marks the predicate separation stage complete; it mutates
// HavingPredicates and FilterPredicates in place rather than setting a new
// field.
func (c *Context) SetSeparated() {
	if c.separatedSet {
		panic("extract: SetSeparated called twice")
	}
	c.separatedSet = true
}

// SetProjections records the projection extraction result.
func (c *Context) SetProjections(projs []Projection) {
	if c.projectionsSet {
		panic("extract: SetProjections called twice")
	}
	c.Projections = projs
	c.projectionsSet = true
}

// SetAggregationDone marks the aggregation extraction stage complete; it
// mutates Projections in place to fill in Aggregate fields.
func (c *Context) SetAggregationDone() {
	if c.aggregationSet {
		panic("extract: SetAggregationDone called twice")
	}
	c.aggregationSet = true
}

// SetOrderBy records the order-by recovery result.
func (c *Context) SetOrderBy(items []OrderByItem, confident bool) {
	if c.orderBySet {
		panic("extract: SetOrderBy called twice")
	}
	c.OrderBy = items
	c.OrderByDone = confident
	c.orderBySet = true
}

// PrintTiming renders a table of per-stage elapsed time, mirroring the
// reference implementation's print_timing.
func (c *Context) PrintTiming() {
	rows := [][]string{{"Stage", "Elapsed"}}
	var total time.Duration
	for _, t := range c.timings {
		rows = append(rows, []string{t.Stage, t.Took.String()})
		total += t.Took
	}
	rows = append(rows, []string{"Total", total.String()})

	table, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		fmt.Printf("render timing table: %v\n", err)
		return
	}
	pterm.Println(table)
}
