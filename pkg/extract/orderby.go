// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

// orderByExtractor makes a best-effort attempt to recover a single-column
// ORDER BY clause: for the first eligible projected attribute, it replaces
// its table with three rows holding strictly increasing values for that
// attribute (every other column held at a fixed dummy value) and checks
// whether the hidden query's output, read back in whatever order Postgres
// returns it, happens to come out monotonic in that column.
//
// This is deliberately the least rigorous stage in the pipeline, grounded on
// orderby_extractor.py, itself the least principled stage of the original
// extractor (its own comments call the row-construction logic a "Hack").
// Two simplifications are made relative to the original:
//
//   - Only single-core-relation queries are probed. Multi-relation ORDER BY
//     detection requires generating synthetic rows whose join keys line up
//     consistently across every core relation, which the original handles
//     with join-graph-aware key propagation (is_part_of_output,
//     joined_attrib_valDict); that bookkeeping is not reproduced here.
//   - Detection stops at the first monotonic attribute found. A genuine
//     multi-column ORDER BY, or an ORDER BY on a join attribute, is not
//     recovered; OrderByDone reports whether even this much succeeded.
func orderByExtractor(ctx context.Context, c *Context) error {
	for i := range c.Projections {
		p := c.Projections[i]
		if p.Kind != ProjAttribute && p.Kind != ProjPolynomial {
			continue
		}
		if p.GroupByKey || len(p.Deps) != 1 {
			continue
		}
		attr := p.Deps[0]
		if isJoinAttribute(c, attr) {
			continue
		}

		order, err := probeOrderDirection(ctx, c, attr, i)
		if err != nil {
			return fmt.Errorf("probe order on %s: %w", attr, err)
		}
		if order == "" {
			continue
		}

		c.SetOrderBy([]OrderByItem{{ProjectionIndex: i, Descending: order == "desc"}}, true)
		return nil
	}

	c.SetOrderBy(nil, false)
	return nil
}

func isJoinAttribute(c *Context, attr Attribute) bool {
	for _, e := range c.JoinGraph {
		if e.Left == attr || e.Right == attr {
			return true
		}
	}
	return false
}

// probeOrderDirection rebuilds attr's table with three rows of strictly
// increasing attr values and reports whether the hidden query's output came
// back monotonic in attr's projected column. Only attempted when attr's
// table is the query's sole core relation.
func probeOrderDirection(ctx context.Context, c *Context, attr Attribute, col int) (string, error) {
	core := c.CoreRelations()
	if len(core) != 1 || core[0] != attr.Table {
		return "", nil
	}
	fields := c.Attributes[attr.Table]

	var order string
	err := c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, quote(attr.Table))); err != nil {
			return err
		}

		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = quote(f.Column)
		}
		colList := strings.Join(names, ", ")

		for row := int64(0); row < 3; row++ {
			vals := make([]string, len(fields))
			for i, f := range fields {
				base := sqltype.Dummy(f.Kind, func(sqltype.Value) bool { return false })
				if f.Column == attr.Column {
					vals[i] = base.Plus(row).Literal()
				} else {
					vals[i] = base.Literal()
				}
			}
			stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
				quote(attr.Table), colList, strings.Join(vals, ", "))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		values, err := readColumnValues(ctx, tx, c.HiddenQuery, col, attr.Kind)
		if err != nil {
			return err
		}
		order = checkSortOrder(values)
		return errRollbackProbe
	})
	if err != nil && err != errRollbackProbe {
		return "", err
	}
	return order, nil
}

func readColumnValues(ctx context.Context, tx *sql.Tx, query string, col int, kind sqltype.Kind) ([]sqltype.Value, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	width, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var values []sqltype.Value
	for rows.Next() {
		dest := make([]interface{}, len(width))
		raw := make([]sql.NullString, len(width))
		for i := range dest {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if col >= len(raw) {
			continue
		}
		values = append(values, parseValue(kind, raw[col].String))
	}
	return values, rows.Err()
}

// checkSortOrder reports "asc" if values is non-decreasing, "desc" if
// non-increasing, or "" otherwise (including when there are fewer than two
// values to compare). Grounded on check_sort_order.
func checkSortOrder(values []sqltype.Value) string {
	if len(values) < 2 {
		return ""
	}
	asc, desc := true, true
	for i := 0; i < len(values)-1; i++ {
		if values[i+1].Less(values[i]) {
			asc = false
		}
		if values[i].Less(values[i+1]) {
			desc = false
		}
	}
	switch {
	case asc:
		return "asc"
	case desc:
		return "desc"
	default:
		return ""
	}
}
