// SPDX-License-Identifier: Apache-2.0

package querybuilder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgunmask/pgunmask/pkg/extract"
	"github.com/pgunmask/pgunmask/pkg/querybuilder"
	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

func TestBuildSimpleSPJ(t *testing.T) {
	orderKey := extract.Attribute{Table: "orders", Column: "o_orderkey"}
	custKey := extract.Attribute{Table: "customer", Column: "c_custkey"}

	c := &extract.Context{
		Relations: []extract.Relation{
			{Name: "orders", Core: true},
			{Name: "customer", Core: true},
		},
		JoinGraph: []extract.JoinEdge{{Left: orderKey, Right: custKey}},
		FilterPredicates: []extract.FilterPredicate{
			{Attrib: extract.Attribute{Table: "orders", Column: "o_totalprice"}, Op: extract.OpGreaterEqual, Value: sqltype.Int(sqltype.KindInteger, 1000)},
		},
		Projections: []extract.Projection{
			{Name: "col0", Kind: extract.ProjAttribute, Deps: []extract.Attribute{orderKey}},
		},
	}

	query, err := querybuilder.Build(c)
	require.NoError(t, err)
	assert.Equal(t, "SELECT orders.o_orderkey\nFROM orders, customer\n\tWHERE orders.o_orderkey = customer.c_custkey AND orders.o_totalprice >= 1000;", query)
}

func TestBuildRejectsNoCoreRelations(t *testing.T) {
	_, err := querybuilder.Build(&extract.Context{})
	assert.Error(t, err)
}

func TestBuildWithGroupByAndHaving(t *testing.T) {
	qty := extract.Attribute{Table: "lineitem", Column: "l_quantity"}
	key := extract.Attribute{Table: "lineitem", Column: "l_orderkey"}

	c := extract.NewContext(nil, "public", "", nil)
	c.Relations = []extract.Relation{{Name: "lineitem", Core: true}}
	c.SetGroupByKeys([]extract.Attribute{key})
	c.HavingPredicates = []extract.HavingPredicate{
		{Fn: extract.AggSum, Attrib: qty, Op: extract.OpGreaterEqual, Value: sqltype.Int(sqltype.KindInteger, 100)},
	}
	c.Projections = []extract.Projection{
		{Name: "col0", Kind: extract.ProjAttribute, Deps: []extract.Attribute{key}, GroupByKey: true},
		{Name: "col1", Kind: extract.ProjPolynomial, Deps: []extract.Attribute{qty}, Aggregate: extract.AggSum, Expr: "lineitem.l_quantity"},
	}

	query, err := querybuilder.Build(c)
	require.NoError(t, err)
	assert.Contains(t, query, "GROUP BY lineitem.l_orderkey")
	assert.Contains(t, query, "HAVING SUM(lineitem.l_quantity) >= 100")
	assert.Contains(t, query, "SUM(lineitem.l_quantity)")
}

func TestBuildSeparableHavingBecomesFilter(t *testing.T) {
	qty := extract.Attribute{Table: "lineitem", Column: "l_quantity"}
	filter := extract.FilterPredicate{Attrib: qty, Op: extract.OpGreaterEqual, Value: sqltype.Int(sqltype.KindInteger, 5)}

	c := &extract.Context{
		Relations: []extract.Relation{{Name: "lineitem", Core: true}},
		HavingPredicates: []extract.HavingPredicate{
			{Fn: extract.AggMin, Attrib: qty, Op: extract.OpGreaterEqual, Value: sqltype.Int(sqltype.KindInteger, 5), Separable: true, AsFilter: &filter},
		},
		Projections: []extract.Projection{
			{Name: "col0", Kind: extract.ProjAttribute, Deps: []extract.Attribute{qty}},
		},
	}

	query, err := querybuilder.Build(c)
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE lineitem.l_quantity >= 5")
	assert.NotContains(t, query, "HAVING")
}
