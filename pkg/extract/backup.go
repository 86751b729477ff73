// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"fmt"

	"github.com/pgunmask/pgunmask/pkg/db"
)

// backupSuffix names the rename-aside copy of a table the pipeline takes
// before it starts mutating the schema, mirroring the reference
// implementation's backup_tables/restore_tables pair in its Pipeline
// context manager.
const backupSuffix = "_pgunmask_bak"

// backupRelations renames every table in tables aside and creates an empty
// working clone populated with its original rows, so every later stage can
// freely delete, truncate or otherwise destroy rows in the clone.
func backupRelations(ctx context.Context, conn db.DB, tables []string) ([]string, error) {
	var done []string
	for _, t := range tables {
		backupName := t + backupSuffix
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, quote(t), quote(backupName))); err != nil {
			return done, fmt.Errorf("rename %s aside: %w", t, err)
		}
		// Deliberately INCLUDING DEFAULTS only, not ALL: the probes later in
		// the pipeline duplicate rows and bulk-assign a single value across
		// every row of a table, both of which a copied PRIMARY KEY/UNIQUE
		// constraint (or a copied foreign key referencing another table's
		// own working clone) would reject.
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (LIKE %s INCLUDING DEFAULTS)`, quote(t), quote(backupName))); err != nil {
			return done, fmt.Errorf("clone %s: %w", t, err)
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s SELECT * FROM %s`, quote(t), quote(backupName))); err != nil {
			return done, fmt.Errorf("copy %s into working clone: %w", t, err)
		}
		done = append(done, t)
	}
	return done, nil
}

// restoreRelations drops the (by now heavily mutated) working clones and
// renames the original backup tables back into place. Called unconditionally
// when the pipeline finishes, success or failure, so a crashed run never
// leaves the target database in its probe-mutated state.
func restoreRelations(ctx context.Context, conn db.DB, tables []string) error {
	var firstErr error
	for _, t := range tables {
		backupName := t + backupSuffix
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quote(t))); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("drop working clone of %s: %w", t, err)
			continue
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, quote(backupName), quote(t))); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restore %s: %w", t, err)
		}
	}
	return firstErr
}

func quote(ident string) string {
	return `"` + ident + `"`
}
