// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Open connects to pgURL and configures the session the way every probe
// transaction expects: a bounded lock_timeout so a stuck probe fails fast
// instead of hanging the pipeline, and search_path pinned to schema.
func Open(ctx context.Context, pgURL, schema string, lockTimeoutMs int) (*RDB, error) {
	connStr, err := pq.ParseURL(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET search_path = %s", pq.QuoteIdentifier(schema))); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set search_path: %w", err)
	}

	if lockTimeoutMs > 0 {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET lock_timeout = %d", lockTimeoutMs)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	return &RDB{DB: conn}, nil
}
