// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgunmask/pgunmask/pkg/schema"
)

const (
	maxSamplingAttempts      = 100
	sampleSizeMultiplier     = 10
	initialSampleSizePercent = 0.16
)

// correlatedSampler shrinks every core relation down to a small sample that
// still reproduces a non-empty hidden query result, so every later stage
// (which probes by mutating whole tables, sometimes repeatedly) runs against
// a cheap working set instead of the full database.
//
// Tables joined by a foreign key edge are sampled together rather than
// independently: a plain per-table TABLESAMPLE would, at any low
// percentage, almost certainly draw rows on each side whose join keys don't
// intersect, so the hidden query would empty out and the sampler would
// escalate straight to 100%. Instead, one table in each key clique is
// designated the base, sampled directly, and every other table directly
// connected to the base is then sampled only from the rows whose key
// already appears in the base's sample. A clique member not directly
// connected to the chosen base falls back to an independent draw, the same
// simplification the reference implementation makes per key list.
//
// Grounded on correlated_sampler.py: get_base_t (largest-table heuristic),
// do_for_key_lists (base-table sample + correlated sample of the rest),
// do_for_empty_key_lists (plain TABLESAMPLE for unconnected tables), and
// the ×10 percent growth/100-attempt backoff loop.
func correlatedSampler(ctx context.Context, c *Context) error {
	core := c.CoreRelations()
	if len(core) == 0 {
		c.SetSampled()
		return nil
	}

	coreSet := make(map[string]bool, len(core))
	for _, t := range core {
		coreSet[t] = true
	}

	cliques := coreCliques(c, coreSet)

	inClique := make(map[string]bool)
	for _, cl := range cliques {
		for _, t := range cl.Tables {
			inClique[t] = true
		}
	}
	var independent []string
	for _, t := range core {
		if !inClique[t] {
			independent = append(independent, t)
		}
	}

	percent := initialSampleSizePercent * 100
	attempt := 0
	for {
		attempt++
		ok, err := trySample(ctx, c, cliques, independent, percent)
		if err != nil {
			return fmt.Errorf("sample attempt %d: %w", attempt, err)
		}
		if ok {
			c.SetSampled()
			return nil
		}
		if attempt >= maxSamplingAttempts {
			c.Logger().Warn("correlated sampling exhausted %d attempts; falling back to the full table", maxSamplingAttempts)
			if err := fullCopyFallback(ctx, c, core); err != nil {
				return fmt.Errorf("full copy fallback: %w", err)
			}
			c.SetSampled()
			return nil
		}
		percent *= sampleSizeMultiplier
		if percent > 100 {
			percent = 100
		}
	}
}

// coreCliques returns every key clique from c.KeyGraph restricted to core
// relations with at least two members, the set a correlated (rather than
// independent) sample is worth attempting for.
func coreCliques(c *Context, coreSet map[string]bool) []schema.KeyClique {
	if c.KeyGraph == nil {
		return nil
	}
	var out []schema.KeyClique
	for _, cl := range c.KeyGraph.Cliques() {
		var tables []string
		for _, t := range cl.Tables {
			if coreSet[t] {
				tables = append(tables, t)
			}
		}
		if len(tables) > 1 {
			out = append(out, schema.KeyClique{Tables: tables, Edges: cl.Edges})
		}
	}
	return out
}

// trySample replaces every core relation's rows with a correlated sample
// drawn from its backup table inside a transaction, checks whether the
// hidden query still returns rows, and commits only on success.
func trySample(ctx context.Context, c *Context, cliques []schema.KeyClique, independent []string, percent float64) (bool, error) {
	var ok bool
	err := c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, cl := range cliques {
			if err := sampleClique(ctx, tx, cl, percent); err != nil {
				return err
			}
		}
		for _, t := range independent {
			if err := sampleIndependent(ctx, tx, t, percent); err != nil {
				return err
			}
		}

		rows, err := tx.QueryContext(ctx, c.HiddenQuery)
		if err != nil {
			return fmt.Errorf("run hidden query: %w", err)
		}
		defer rows.Close()

		ok = rows.Next()
		if err := rows.Err(); err != nil {
			return err
		}
		if !ok {
			return errRollbackProbe
		}
		return nil
	})

	if err != nil && err != errRollbackProbe {
		return false, err
	}
	return ok, nil
}

// sampleClique samples the clique's base table directly, then samples every
// other table that has a direct edge to the base from only the rows whose
// join key matches one already drawn into the base's sample.
func sampleClique(ctx context.Context, tx *sql.Tx, cl schema.KeyClique, percent float64) error {
	base, baseKey, err := cliqueBaseTable(ctx, tx, cl)
	if err != nil {
		return err
	}

	if err := resampleTable(ctx, tx, base, percent); err != nil {
		return err
	}

	connected := map[string]bool{base: true}
	for _, e := range cl.Edges {
		var other, otherKey string
		switch {
		case e.ChildTable == base:
			other, otherKey = e.ParentTable, e.ParentColumn
		case e.ParentTable == base:
			other, otherKey = e.ChildTable, e.ChildColumn
		default:
			continue
		}
		if connected[other] {
			continue
		}
		connected[other] = true

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, quote(other))); err != nil {
			return err
		}
		limit, err := rowCount(ctx, tx, other+backupSuffix)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s SELECT * FROM %s WHERE %s IN (SELECT DISTINCT %s FROM %s) LIMIT %d`,
			quote(other), quote(other+backupSuffix), quote(otherKey), quote(baseKey), quote(base), limit)); err != nil {
			return err
		}
	}

	// Any clique member not directly connected to the chosen base (a deeper
	// chain in a clique wider than a star around one table) is sampled
	// independently rather than correlated transitively.
	for _, t := range cl.Tables {
		if !connected[t] {
			if err := sampleIndependent(ctx, tx, t, percent); err != nil {
				return err
			}
		}
	}
	return nil
}

// cliqueBaseTable picks the largest table (by its backed-up row count) in
// the clique as the base and returns it with the join column it uses
// toward its neighbors.
func cliqueBaseTable(ctx context.Context, tx *sql.Tx, cl schema.KeyClique) (string, string, error) {
	var base string
	var maxSize int64 = -1
	for _, t := range cl.Tables {
		n, err := rowCount(ctx, tx, t+backupSuffix)
		if err != nil {
			return "", "", err
		}
		if n > maxSize {
			maxSize = n
			base = t
		}
	}
	for _, e := range cl.Edges {
		if e.ChildTable == base {
			return base, e.ChildColumn, nil
		}
		if e.ParentTable == base {
			return base, e.ParentColumn, nil
		}
	}
	return base, "", fmt.Errorf("%w: clique base table %s has no edge to key off of", ErrInvariantViolation, base)
}

// sampleIndependent replaces table's rows with a plain TABLESAMPLE draw
// from its backup, with no correlation to any other table.
func sampleIndependent(ctx context.Context, tx *sql.Tx, table string, percent float64) error {
	return resampleTable(ctx, tx, table, percent)
}

// resampleTable truncates table and refills it with a TABLESAMPLE SYSTEM(p)
// draw from its backup.
func resampleTable(ctx context.Context, tx *sql.Tx, table string, percent float64) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, quote(table))); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s SELECT * FROM %s TABLESAMPLE SYSTEM (%f)`,
		quote(table), quote(table+backupSuffix), percent)); err != nil {
		return err
	}
	return nil
}

// fullCopyFallback replaces every core table's rows with its full backup,
// used once sampling has exhausted its attempt budget without ever
// producing a non-empty hidden query result.
func fullCopyFallback(ctx context.Context, c *Context, core []string) error {
	return c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, t := range core {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, quote(t))); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`INSERT INTO %s SELECT * FROM %s`, quote(t), quote(t+backupSuffix))); err != nil {
				return err
			}
		}
		return nil
	})
}

func rowCount(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, quote(table)))
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
