// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgunmask/pgunmask/pkg/schema"
	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

// joinExtractor decides, for each declared key clique, whether the hidden
// query actually joins across every edge in the clique or only a subset.
// It tests each declared foreign key edge on its own: the edge's two join
// columns get two distinct dummy values, so that a true join on that edge
// is guaranteed to produce zero rows, and the edge is kept when the hidden
// query's result does become empty. It does not enumerate bipartitions of
// the clique's tables and does not recurse into sub-cliques; only declared
// edges are ever tested.
//
// Grounded on join_extractor.py's DUMMY_INTS/DUMMY_CHARS/DUMMY_DATES pairs
// and its splitting of a clique into join_graph entries.
func joinExtractor(ctx context.Context, c *Context) error {
	if c.KeyGraph == nil {
		return fmt.Errorf("%w: no key graph loaded", ErrFatalConfiguration)
	}

	cliques := c.KeyGraph.Cliques()

	core := make(map[string]bool)
	for _, t := range c.CoreRelations() {
		core[t] = true
	}

	var filtered []schema.KeyClique
	for _, cl := range cliques {
		var tables []string
		for _, t := range cl.Tables {
			if core[t] {
				tables = append(tables, t)
			}
		}
		if len(tables) > 1 {
			filtered = append(filtered, schema.KeyClique{Tables: tables, Edges: cl.Edges})
		}
	}

	var joinGraph []JoinEdge
	for _, cl := range filtered {
		edges, err := resolveClique(ctx, c, cl)
		if err != nil {
			return fmt.Errorf("resolve key clique %v: %w", cl.Tables, err)
		}
		joinGraph = append(joinGraph, edges...)
	}

	c.SetJoinGraph(filtered, joinGraph)
	return nil
}

// resolveClique checks every edge declared within the clique and keeps only
// those the hidden query actually requires to be joined.
func resolveClique(ctx context.Context, c *Context, cl schema.KeyClique) ([]JoinEdge, error) {
	var confirmed []JoinEdge
	for _, e := range cl.Edges {
		required, err := edgeIsRequired(ctx, c, e)
		if err != nil {
			return nil, err
		}
		if required {
			confirmed = append(confirmed, JoinEdge{
				Left:  Attribute{Table: e.ChildTable, Column: e.ChildColumn},
				Right: Attribute{Table: e.ParentTable, Column: e.ParentColumn},
			})
		}
	}
	return confirmed, nil
}

// edgeIsRequired assigns distinct dummy values to e's two join columns
// across all rows of each side, then checks whether the hidden query's
// result becomes empty: a genuine equi-join condition on this edge forces
// emptiness once the two sides can never compare equal.
func edgeIsRequired(ctx context.Context, c *Context, e schema.Edge) (bool, error) {
	kind := columnKind(c, e.ChildTable, e.ChildColumn)

	left := sqltype.Dummy(kind, func(sqltype.Value) bool { return false })
	right := left.Plus(1)

	var empty bool
	err := c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = %s`,
			quote(e.ChildTable), quote(e.ChildColumn), left.Literal())); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = %s`,
			quote(e.ParentTable), quote(e.ParentColumn), right.Literal())); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, c.HiddenQuery)
		if err != nil {
			return err
		}
		defer rows.Close()
		empty = !rows.Next()
		if err := rows.Err(); err != nil {
			return err
		}
		return errRollbackProbe
	})
	if err != nil && err != errRollbackProbe {
		return false, err
	}
	return empty, nil
}

func columnKind(c *Context, table, column string) sqltype.Kind {
	for _, a := range c.Attributes[table] {
		if a.Column == column {
			return a.Kind
		}
	}
	return sqltype.KindInteger
}
