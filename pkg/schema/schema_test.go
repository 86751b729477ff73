// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sidecarCSV = `child_table,child_column,is_primary_key,is_foreign_key,parent_table,parent_column
orders,o_orderkey,1,0,,
orders,o_custkey,0,1,customer,c_custkey
customer,c_custkey,1,0,,
lineitem,l_orderkey,1,1,orders,o_orderkey
lineitem,l_partkey,1,1,part,p_partkey
part,p_partkey,1,0,,
`

func TestParseKeyGraph(t *testing.T) {
	g, err := parseKeyGraph(strings.NewReader(sidecarCSV))
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"orders", "customer", "lineitem", "part"}, g.Tables)
	require.Equal(t, []string{"o_orderkey"}, g.PrimaryKey["orders"])
	require.Equal(t, []string{"c_custkey"}, g.PrimaryKey["customer"])
	require.Len(t, g.Edges, 3)
}

func TestCliquesGroupsTransitiveJoins(t *testing.T) {
	g, err := parseKeyGraph(strings.NewReader(sidecarCSV))
	require.NoError(t, err)

	cliques := g.Cliques()
	require.Len(t, cliques, 1, "all four tables are joined transitively through orders/lineitem")

	require.ElementsMatch(t, []string{"orders", "customer", "lineitem", "part"}, cliques[0].Tables)
}

func TestCliquesSeparatesDisjointGraphs(t *testing.T) {
	csv := `child_table,child_column,is_primary_key,is_foreign_key,parent_table,parent_column
a,id,1,0,,
b,id,1,0,,
b,a_id,0,1,a,id
c,id,1,0,,
`
	g, err := parseKeyGraph(strings.NewReader(csv))
	require.NoError(t, err)

	cliques := g.Cliques()
	require.Len(t, cliques, 2)
}

func TestNeighborTables(t *testing.T) {
	g, err := parseKeyGraph(strings.NewReader(sidecarCSV))
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"customer", "lineitem"}, g.NeighborTables("orders"))
}
