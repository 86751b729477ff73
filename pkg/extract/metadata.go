// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"fmt"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

// metadataExtractor records, for every core relation, the column names and
// coarse value kinds the rest of the pipeline needs to generate probe
// values. The key graph itself was already loaded from the sidecar CSV
// before the pipeline started (schema.LoadKeyGraph); this stage only reads
// information_schema for column names/types, matching
// metadata_extractor.py's get_attrib_types_and_maxlen.
func metadataExtractor(ctx context.Context, c *Context) error {
	attrs := make(map[string][]Attribute)

	for _, table := range c.CoreRelations() {
		cols, err := columnKinds(ctx, c, table)
		if err != nil {
			return fmt.Errorf("read columns of %s: %w", table, err)
		}
		attrs[table] = cols
	}

	c.SetAttributes(attrs)
	return nil
}

func columnKinds(ctx context.Context, c *Context, table string) ([]Attribute, error) {
	rows, err := c.Conn.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, c.Schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attribute
	for rows.Next() {
		var name, pgType string
		if err := rows.Scan(&name, &pgType); err != nil {
			return nil, err
		}
		out = append(out, Attribute{
			Table:  table,
			Column: name,
			Kind:   sqltype.KindFromPostgres(pgType),
		})
	}
	return out, rows.Err()
}
