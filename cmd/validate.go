// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgunmask/pgunmask/cmd/flags"
	"github.com/pgunmask/pgunmask/pkg/db"
)

// validateCmd is a supplemented command with no direct analog in the
// original extractor: it gives a way to sanity-check a recovered query
// against live oracle access, by running both the hidden query and a
// candidate reconstruction and comparing their result sets as multisets of
// stringified rows (row order is not part of what the pipeline recovers
// unless ORDER BY was confidently detected, so ordering is ignored here).
func validateCmd() *cobra.Command {
	var reconstructed string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a reconstructed query against the hidden query's live output",
		RunE: func(cmd *cobra.Command, args []string) error {
			hiddenQuery := flags.HiddenQuery()
			if hiddenQuery == "" {
				return errHiddenQueryRequired
			}
			if reconstructed == "" {
				return fmt.Errorf("pgunmask: --reconstructed-query is required")
			}

			conn, err := db.Open(cmd.Context(), flags.PostgresURL(), flags.Schema(), flags.LockTimeout())
			if err != nil {
				return fmt.Errorf("connect to target database: %w", err)
			}
			defer conn.Close()

			match, err := resultsMatch(cmd.Context(), conn, hiddenQuery, reconstructed)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			if !match {
				return fmt.Errorf("validate: reconstructed query's output does not match the hidden query's output")
			}

			fmt.Fprintln(cmd.OutOrStdout(), "reconstructed query matches hidden query output")
			return nil
		},
	}

	cmd.Flags().StringVar(&reconstructed, "reconstructed-query", "", "Candidate reconstructed SQL to validate")
	return cmd
}

func resultsMatch(ctx context.Context, conn *db.RDB, q1, q2 string) (bool, error) {
	r1, err := stringifyRows(ctx, conn, q1)
	if err != nil {
		return false, fmt.Errorf("run hidden query: %w", err)
	}
	r2, err := stringifyRows(ctx, conn, q2)
	if err != nil {
		return false, fmt.Errorf("run reconstructed query: %w", err)
	}

	sort.Strings(r1)
	sort.Strings(r2)
	if len(r1) != len(r2) {
		return false, nil
	}
	for i := range r1 {
		if r1[i] != r2[i] {
			return false, nil
		}
	}
	return true, nil
}

func stringifyRows(ctx context.Context, conn *db.RDB, query string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []string
	for rows.Next() {
		raw := make([]sql.NullString, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range dest {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		parts := make([]string, len(raw))
		for i, v := range raw {
			parts[i] = v.String
		}
		out = append(out, strings.Join(parts, "\x1f"))
	}
	return out, rows.Err()
}
