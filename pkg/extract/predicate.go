// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"fmt"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

// predicateExtractor recovers every WHERE-clause filter predicate on the
// minimized database, and, when the hidden query has a GROUP BY, every
// HAVING-clause predicate over an aggregate expression.
//
// For the SPJ fast path (no GROUP BY), each candidate attribute's admitted
// range is found directly: MIN(attribute) and MAX(attribute) over the
// minimized core relation bound the search interval, and binary search
// narrows it to the predicate's actual bound from each side. An equality
// predicate shows up as a bound search converging to a single point.
//
// When a GROUP BY is present, the same binary search runs unchanged against
// the raw attribute, and each bound it finds is recorded as a candidate
// HAVING predicate instead of a WHERE filter, since the predicate may be a
// HAVING condition over SUM/AVG/MIN/MAX/COUNT rather than a WHERE condition
// on the bare column; which of those it is gets resolved later by
// aggregation.go and separator.go.
//
// Grounded on unmasque/src/predicate_extractor.py's get_filter_predicate,
// get_lower_bound/get_upper_bound, and the top-level predicate_extractor
// SPJ-fast-path/full-HAVING-path split.
func predicateExtractor(ctx context.Context, c *Context) error {
	var filters []FilterPredicate
	var having []HavingPredicate

	for _, table := range c.CoreRelations() {
		for _, attr := range c.Attributes[table] {
			bounds, err := findAttributeBounds(ctx, c, attr)
			if err != nil {
				return fmt.Errorf("bound %s: %w", attr, err)
			}
			if bounds == nil {
				continue
			}

			if !c.HasGroupBy() {
				filters = append(filters, bounds...)
			} else {
				// A bound found while a GROUP BY is present is a candidate HAVING
				// predicate until predicate separation proves it's really a WHERE
				// filter on the unaggregated attribute (separator.go).
				for _, f := range bounds {
					having = append(having, HavingPredicate{
						Attrib: f.Attrib,
						Op:     f.Op,
						Value:  f.Value,
					})
				}
			}
		}
	}

	c.SetPredicates(filters, having)
	return nil
}

// findAttributeBounds probes attr for a lower bound, an upper bound, and an
// equality point, returning only the predicates that actually constrain the
// result (a bound equal to the column's natural MIN/MAX is not a real
// predicate).
func findAttributeBounds(ctx context.Context, c *Context, attr Attribute) ([]FilterPredicate, error) {
	naturalMin, naturalMax, err := columnExtrema(ctx, c, attr)
	if err != nil {
		return nil, err
	}

	probe := probeWithColumnSet(c.Conn, attr.Table, attr.Column, c.HiddenQuery)

	lb, err := binarySearchBound(ctx, naturalMin, naturalMax, true, probe)
	if err != nil {
		return nil, err
	}
	ub, err := binarySearchBound(ctx, naturalMin, naturalMax, false, probe)
	if err != nil {
		return nil, err
	}

	var out []FilterPredicate
	if lb.Equal(ub) && !lb.Equal(naturalMin) {
		out = append(out, FilterPredicate{Attrib: attr, Op: OpEqual, Value: lb})
		return out, nil
	}
	if !lb.Equal(naturalMin) {
		out = append(out, FilterPredicate{Attrib: attr, Op: OpGreaterEqual, Value: lb})
	}
	if !ub.Equal(naturalMax) {
		out = append(out, FilterPredicate{Attrib: attr, Op: OpLessEqual, Value: ub})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func columnExtrema(ctx context.Context, c *Context, attr Attribute) (sqltype.Value, sqltype.Value, error) {
	rows, err := c.Conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT min(%s)::text, max(%s)::text FROM %s`, quote(attr.Column), quote(attr.Column), quote(attr.Table)))
	if err != nil {
		return sqltype.Value{}, sqltype.Value{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		return sqltype.Min(attr.Kind), sqltype.Max(attr.Kind), nil
	}
	var minText, maxText string
	if err := rows.Scan(&minText, &maxText); err != nil {
		return sqltype.Value{}, sqltype.Value{}, err
	}

	return parseValue(attr.Kind, minText), parseValue(attr.Kind, maxText), rows.Err()
}

func parseValue(kind sqltype.Kind, text string) sqltype.Value {
	switch kind {
	case sqltype.KindInteger:
		var i int64
		fmt.Sscanf(text, "%d", &i)
		return sqltype.Int(kind, i)
	case sqltype.KindNumeric:
		return sqltype.NumericFromText(text)
	case sqltype.KindDate:
		return sqltype.DateFromText(text)
	default:
		return sqltype.Text(text)
	}
}
