// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

// groupByExtractor determines which minimized attributes are GROUP BY keys.
// For each candidate attribute it duplicates every row of its table with the
// attribute's value bumped by one (val+1; a text attribute instead takes a
// fixed dummy value) and checks whether the hidden query's row count
// changes: a GROUP BY key
// produces a new group (and so a new output row) whenever its value
// changes, while a non-key attribute either changes an existing group's
// aggregate or has no effect.
//
// Grounded on groupby_extractor.py: add_duplicate_rows_new_vals (copy into a
// scratch table, bump the candidate column, reinsert) and
// is_groupby_attrib_with_val's join-graph propagation, simplified here to a
// direct per-attribute probe without the join-propagation shortcut, which
// only matters for performance, not correctness.
func groupByExtractor(ctx context.Context, c *Context) error {
	var keys []Attribute

	for _, table := range c.CoreRelations() {
		for _, attr := range c.Attributes[table] {
			isKey, err := attributeIsGroupByKey(ctx, c, attr)
			if err != nil {
				return fmt.Errorf("probe group-by key %s: %w", attr, err)
			}
			if isKey {
				keys = append(keys, attr)
			}
		}
	}

	c.SetGroupByKeys(keys)
	return nil
}

// attributeIsGroupByKey duplicates attr's table with the attribute bumped by
// +1 (one day for dates, a fixed dummy value for text) and checks whether
// the hidden query's row count increases accordingly.
func attributeIsGroupByKey(ctx context.Context, c *Context, attr Attribute) (bool, error) {
	baseline, err := countRows(ctx, c.Conn, c.HiddenQuery)
	if err != nil {
		return false, fmt.Errorf("baseline row count: %w", err)
	}

	var isKey bool
	err = c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		scratch := "groupby_scratch"
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`CREATE TEMP TABLE %s AS SELECT * FROM %s`, scratch, quote(attr.Table))); err != nil {
			return err
		}

		bumped := sqltype.Dummy(attr.Kind, func(sqltype.Value) bool { return false }).Plus(1).Literal()
		switch attr.Kind {
		case sqltype.KindInteger, sqltype.KindNumeric:
			bumped = fmt.Sprintf("%s + 1", quote(attr.Column))
		case sqltype.KindDate:
			bumped = fmt.Sprintf("%s + interval '1 day'", quote(attr.Column))
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET %s = %s`, scratch, quote(attr.Column), bumped)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s SELECT * FROM %s`, quote(attr.Table), scratch)); err != nil {
			return err
		}

		count, err := countRowsTx(ctx, tx, c.HiddenQuery)
		if err != nil {
			return err
		}
		isKey = count > baseline

		return errRollbackProbe
	})
	if err != nil && err != errRollbackProbe {
		return false, err
	}
	return isKey, nil
}

func countRows(ctx context.Context, conn interface {
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
}, query string) (int, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

func countRowsTx(ctx context.Context, tx *sql.Tx, query string) (int, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}
