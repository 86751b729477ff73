// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgunmask/pgunmask/pkg/db"
	"github.com/pgunmask/pgunmask/pkg/querybuilder"
	"github.com/pgunmask/pgunmask/pkg/schema"
	"github.com/pgunmask/pgunmask/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

// TestPipelineRecoversSingleTableFilter runs the full stage sequence against
// a single-table schema behind a hidden query with one equality filter, the
// simplest case end_to_end.py's "single table with one predicate" fixture
// exercises.
func TestPipelineRecoversSingleTableFilter(t *testing.T) {
	testutils.WithRDBConnectionToContainer(t, func(conn *db.RDB, _ string) {
		ctx := context.Background()

		_, err := conn.ExecContext(ctx, `CREATE TABLE customer (c_custkey integer PRIMARY KEY, c_nationkey integer NOT NULL)`)
		require.NoError(t, err)

		for i := int64(1); i <= 20; i++ {
			_, err := conn.ExecContext(ctx, `INSERT INTO customer (c_custkey, c_nationkey) VALUES ($1, $2)`, i, i%5)
			require.NoError(t, err)
		}

		hiddenQuery := `SELECT c_custkey FROM customer WHERE c_nationkey = 2`

		graph := &schema.KeyGraph{
			Tables:     []string{"customer"},
			PrimaryKey: map[string][]string{"customer": {"c_custkey"}},
		}

		p := New(conn, testutils.TestSchema(), hiddenQuery, graph, WithLogger(NewNoopLogger()))
		result, err := p.Run(ctx)
		require.NoError(t, err)

		require.ElementsMatch(t, []string{"customer"}, result.CoreRelations())
		require.Len(t, result.FilterPredicates, 1)
		require.Equal(t, "c_nationkey", result.FilterPredicates[0].Attrib.Column)
		require.Equal(t, OpEqual, result.FilterPredicates[0].Op)
		require.False(t, result.HasGroupBy())

		require.Len(t, result.Projections, 1)
		require.Equal(t, ProjAttribute, result.Projections[0].Kind)
		require.Equal(t, "c_custkey", result.Projections[0].Deps[0].Column)

		query, err := querybuilder.Build(result)
		require.NoError(t, err)
		require.Contains(t, query, "FROM customer")
		require.Contains(t, query, "customer.c_nationkey = 2")

		// The database the pipeline mutated must be restored to its
		// original row count once Run has returned.
		rows, err := conn.QueryContext(ctx, `SELECT count(*) FROM customer`)
		require.NoError(t, err)
		defer rows.Close()
		require.True(t, rows.Next())
		var count int
		require.NoError(t, rows.Scan(&count))
		require.Equal(t, 20, count)
	})
}
