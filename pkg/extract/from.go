// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"database/sql"
	"fmt"
)

// fromExtractor determines which of the database's tables actually
// contribute to the hidden query's FROM clause. For each relation it empties
// a clone of the table inside a transaction it then rolls back: if the
// hidden query's result also becomes empty, the table is core (removing its
// rows can only empty the result if the query actually reads from it); if
// the result is unaffected, the table is irrelevant and is excluded from
// every later stage.
//
// Grounded on from_extractor.py: rename aside, create an empty clone, run
// the hidden query, observe emptiness, always roll back.
func fromExtractor(ctx context.Context, c *Context) error {
	tables, err := c.Conn.TableNames(ctx, c.Schema)
	if err != nil {
		return fmt.Errorf("%w: list tables: %v", ErrFatalConfiguration, err)
	}

	rels := make([]Relation, 0, len(tables))
	for _, t := range tables {
		core, err := isCoreRelation(ctx, c, t)
		if err != nil {
			return fmt.Errorf("probe relation %s: %w", t, err)
		}
		rels = append(rels, Relation{Name: t, Core: core})
	}

	c.SetRelations(rels)
	return nil
}

// isCoreRelation truncates table inside a transaction that is always rolled
// back, and checks whether the hidden query's result became empty as a
// result. A table is core iff truncating it alone empties the result.
func isCoreRelation(ctx context.Context, c *Context, table string) (bool, error) {
	var resultEmpty bool

	txErr := c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, quote(table))); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}

		rows, err := tx.QueryContext(ctx, c.HiddenQuery)
		if err != nil {
			return fmt.Errorf("run hidden query: %w", err)
		}
		defer rows.Close()

		resultEmpty = !rows.Next()
		if err := rows.Err(); err != nil {
			return err
		}

		// Force a rollback regardless of outcome: this probe must never
		// persist a mutation.
		return errRollbackProbe
	})

	if txErr != nil && txErr != errRollbackProbe {
		return false, txErr
	}
	return resultEmpty, nil
}
