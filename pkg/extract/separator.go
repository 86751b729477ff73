// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

func twoRowCtids(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT ctid::text FROM %s`, quote(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ctid string
		if err := rows.Scan(&ctid); err != nil {
			return nil, err
		}
		out = append(out, ctid)
	}
	return out, rows.Err()
}

// predicateSeparator resolves the MIN/Filter and MAX/Filter ambiguity the
// predicate extractor leaves behind for HAVING predicates: a HAVING
// predicate of the form MIN(x) >= b or MAX(x) <= b is indistinguishable
// from a WHERE filter x >= b / x <= b pushed below the GROUP BY, because
// both have the same effect whenever the bound happens to already be the
// extreme value within every group. This stage builds two synthetic
// two-row groups, one where the bound is achieved by every row (consistent
// with a pushed-down WHERE filter) and one where it's achieved by only one
// row (only consistent with a true MIN/MAX aggregate), and compares the
// result of the hidden query against a join-only rewrite with no HAVING to
// tell which is which.
//
// Grounded on predicate_separator.py's gen_t1/gen_t2 + query_QJ comparison,
// which looks up each HAVING predicate's aggregate function from
// ctx.projection_aggregations — this stage runs after projection and
// aggregation extraction for the same reason, filling in HavingPredicate.Fn
// from the matching Projection.Aggregate before deciding whether a
// predicate needs separating at all.
func predicateSeparator(ctx context.Context, c *Context) error {
	if !c.HasGroupBy() {
		c.SetSeparated()
		return nil
	}

	for i := range c.HavingPredicates {
		h := &c.HavingPredicates[i]
		if h.Fn == "" {
			h.Fn = resolveHavingAggregate(c, h.Attrib)
		}
		if h.Fn != AggMin && h.Fn != AggMax {
			continue
		}

		asFilter, err := havingIsReallyFilter(ctx, c, *h)
		if err != nil {
			return fmt.Errorf("separate predicate on %s: %w", h.Attrib, err)
		}
		h.Separable = asFilter
		if asFilter {
			f := FilterPredicate{Attrib: h.Attrib, Op: h.Op, Value: h.Value}
			h.AsFilter = &f
		}
	}

	c.SetSeparated()
	return nil
}

// resolveHavingAggregate finds the aggregate function the projection
// extractor recovered for attr, if any of the SELECT list's columns
// project it through an aggregate. A HAVING predicate whose attribute was
// never separately aggregated in the SELECT list isn't a MIN/MAX-vs-filter
// ambiguity this stage needs to resolve.
func resolveHavingAggregate(c *Context, attr Attribute) AggregateFn {
	for _, p := range c.Projections {
		if p.Aggregate != "" && len(p.Deps) == 1 && p.Deps[0] == attr {
			return p.Aggregate
		}
	}
	return ""
}

// havingIsReallyFilter distinguishes the two readings by comparing two
// two-row probes on h's table:
//
//   - t1: both rows hold the bound value. A MIN/MAX aggregate and a
//     row-level filter agree here: the aggregate equals the bound, and
//     every row individually satisfies the filter.
//   - t2: one row holds the bound value, the other holds a value one step
//     further outside the admitted range. A genuine MIN/MAX aggregate
//     still passes (the extreme row still clears the bound), but a
//     row-level filter pushed below the GROUP BY would reject the group
//     down to a single row, changing the aggregated output.
//
// If the hidden query's result is identical (same row count) across t1 and
// t2, the predicate behaves like a pure aggregate condition; if t2's result
// differs from t1's, the predicate is really a WHERE filter on the
// unaggregated attribute.
func havingIsReallyFilter(ctx context.Context, c *Context, h HavingPredicate) (bool, error) {
	outside := h.Value.Plus(-1)
	if h.Fn == AggMax {
		outside = h.Value.Plus(1)
	}

	n1, err := probeTwoRowGroup(ctx, c, h.Attrib, h.Value, h.Value)
	if err != nil {
		return false, err
	}
	n2, err := probeTwoRowGroup(ctx, c, h.Attrib, h.Value, outside)
	if err != nil {
		return false, err
	}

	return n1 != n2, nil
}

// probeTwoRowGroup replaces attr's table with exactly two rows, one holding
// v1 and the other v2 for the given attribute, and returns the hidden
// query's row count.
func probeTwoRowGroup(ctx context.Context, c *Context, attr Attribute, v1, v2 sqltype.Value) (int, error) {
	var count int
	err := c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		scratch := "separator_scratch_" + uuid.New().String()[:8]
		// The minimizer leaves each core relation with exactly one row
		// (invariant 5), so a plain LIMIT 2 copy would only ever capture
		// that single witness row. UNION ALL it against itself to manufacture
		// the second row the two-row probe actually needs.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`CREATE TEMP TABLE %s AS (SELECT * FROM %s LIMIT 1) UNION ALL (SELECT * FROM %s LIMIT 1)`,
			scratch, quote(attr.Table), quote(attr.Table))); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, quote(attr.Table))); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s SELECT * FROM %s`, quote(attr.Table), scratch)); err != nil {
			return err
		}

		ctids, err := twoRowCtids(ctx, tx, attr.Table)
		if err != nil {
			return err
		}
		if len(ctids) != 2 {
			return fmt.Errorf("%w: expected 2 rows in two-row probe of %s, got %d", ErrInvariantViolation, attr.Table, len(ctids))
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = %s WHERE ctid = $1`,
			quote(attr.Table), quote(attr.Column), v1.Literal()), ctids[0]); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = %s WHERE ctid = $1`,
			quote(attr.Table), quote(attr.Column), v2.Literal()), ctids[1]); err != nil {
			return err
		}

		n, err := countRowsTx(ctx, tx, c.HiddenQuery)
		if err != nil {
			return err
		}
		count = n
		return errRollbackProbe
	})
	if err != nil && err != errRollbackProbe {
		return 0, err
	}
	return count, nil
}
