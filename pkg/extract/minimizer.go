// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"database/sql"
	"fmt"
)

// minimizer shrinks each core relation to the smallest set of rows that
// still produces a non-empty hidden query result, attribute by attribute:
// for each column, it keeps only the rows matching the column's most
// frequent value, committing the deletion only if the hidden query is still
// non-empty, and otherwise rolling back and leaving that column's rows as
// they are; less frequent values are not tried. It repeats over all
// attributes until a full pass changes nothing.
//
// Grounded on minimizer.py's main loop (get_frequency_sorted_attr_value,
// the commit-or-rollback delete loop, and the final per-row ctid pass).
func minimizer(ctx context.Context, c *Context) error {
	core := c.CoreRelations()
	if len(core) == 0 {
		c.SetMinimized()
		return nil
	}

	for {
		changed := false
		for _, table := range core {
			for _, attr := range c.Attributes[table] {
				did, err := minimizeByAttribute(ctx, c, table, attr.Column)
				if err != nil {
					return fmt.Errorf("minimize %s.%s: %w", table, attr.Column, err)
				}
				changed = changed || did
			}
		}
		if !changed {
			break
		}
	}

	for _, table := range core {
		if err := minimizeRowByRow(ctx, c, table); err != nil {
			return fmt.Errorf("row-by-row minimize %s: %w", table, err)
		}
	}

	c.SetMinimized()
	return nil
}

// minimizeByAttribute deletes every row of table whose value for column
// differs from the column's single most frequent value, committing only if
// the hidden query's result is still non-empty afterward.
func minimizeByAttribute(ctx context.Context, c *Context, table, column string) (bool, error) {
	var deleted bool
	err := c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var mode sql.NullString
		row := tx.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT %s::text FROM %s GROUP BY %s ORDER BY count(*) DESC, %s LIMIT 1`,
			quote(column), quote(table), quote(column), quote(column)))
		if err := row.Scan(&mode); err != nil {
			if err == sql.ErrNoRows {
				return errRollbackProbe
			}
			return err
		}
		if !mode.Valid {
			return errRollbackProbe
		}

		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE %s::text IS DISTINCT FROM $1`, quote(table), quote(column)), mode.String)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errRollbackProbe
		}

		rows, err := tx.QueryContext(ctx, c.HiddenQuery)
		if err != nil {
			return err
		}
		defer rows.Close()
		nonEmpty := rows.Next()
		if err := rows.Err(); err != nil {
			return err
		}
		if !nonEmpty {
			return errRollbackProbe
		}

		deleted = true
		return nil
	})
	if err != nil && err != errRollbackProbe {
		return false, err
	}
	return deleted, nil
}

// minimizeRowByRow deletes the rows of table one at a time (by ctid),
// keeping the deletion permanently whenever the hidden query's result
// remains non-empty, once attribute-level minimization has quiesced.
func minimizeRowByRow(ctx context.Context, c *Context, table string) error {
	// kept counts the rows already found to be needed; they are skipped.
	kept := 0
	for {
		ctid, err := ctidAt(ctx, c, table, kept)
		if err != nil {
			return err
		}
		if ctid == "" {
			return nil
		}

		removed, err := tryDeleteCtid(ctx, c, table, ctid)
		if err != nil {
			return err
		}
		if !removed {
			kept++
		}
	}
}

func ctidAt(ctx context.Context, c *Context, table string, offset int) (string, error) {
	rows, err := c.Conn.QueryContext(ctx, fmt.Sprintf(`SELECT ctid::text FROM %s OFFSET %d LIMIT 1`, quote(table), offset))
	if err != nil {
		return "", err
	}
	defer rows.Close()
	if !rows.Next() {
		return "", rows.Err()
	}
	var ctid string
	if err := rows.Scan(&ctid); err != nil {
		return "", err
	}
	return ctid, rows.Err()
}

// tryDeleteCtid permanently deletes the row identified by ctid from table if
// doing so leaves the hidden query's result non-empty.
func tryDeleteCtid(ctx context.Context, c *Context, table, ctid string) (bool, error) {
	var removed bool
	err := c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE ctid = $1`, quote(table)), ctid); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, c.HiddenQuery)
		if err != nil {
			return err
		}
		defer rows.Close()
		nonEmpty := rows.Next()
		if err := rows.Err(); err != nil {
			return err
		}
		if !nonEmpty {
			return errRollbackProbe
		}
		removed = true
		return nil
	})
	if err != nil && err != errRollbackProbe {
		return false, err
	}
	return removed, nil
}
