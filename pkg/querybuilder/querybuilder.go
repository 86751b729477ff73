// SPDX-License-Identifier: Apache-2.0

// Package querybuilder assembles the reconstructed SQL text from a completed
// extraction Context. It performs no extraction of its own: by the time
// Build runs, every fact it needs (core relations, join graph, filter and
// having predicates, projections, order by) has already been recorded.
//
// Grounded on unmasque/src/query_builder.py's query_from_context.
package querybuilder

import (
	"fmt"
	"strings"

	"github.com/pgunmask/pgunmask/pkg/extract"
)

// Build renders the SELECT statement recovered in c as SQL text.
func Build(c *extract.Context) (string, error) {
	if len(c.CoreRelations()) == 0 {
		return "", fmt.Errorf("querybuilder: no core relations recovered")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(projectionList(c))
	b.WriteString("\nFROM ")
	b.WriteString(strings.Join(c.CoreRelations(), ", "))

	if where := wherePredicates(c); where != "" {
		b.WriteString("\n\tWHERE ")
		b.WriteString(where)
	}

	if c.HasGroupBy() {
		b.WriteString("\n\tGROUP BY ")
		b.WriteString(groupByList(c))
	}

	if having := havingPredicates(c); having != "" {
		b.WriteString("\n\tHAVING ")
		b.WriteString(having)
	}

	if c.OrderByDone && len(c.OrderBy) > 0 {
		b.WriteString("\n\tORDER BY ")
		b.WriteString(orderByList(c))
	}

	b.WriteString(";")
	return b.String(), nil
}

func projectionList(c *extract.Context) string {
	parts := make([]string, len(c.Projections))
	for i, p := range c.Projections {
		expr := projectionExpr(p)
		if p.Aggregate != "" {
			expr = fmt.Sprintf("%s(%s)", p.Aggregate, expr)
		}
		parts[i] = expr
	}
	return strings.Join(parts, ", ")
}

func projectionExpr(p extract.Projection) string {
	switch p.Kind {
	case extract.ProjConstant:
		return p.Const.Literal()
	case extract.ProjAttribute:
		if len(p.Deps) == 1 {
			return p.Deps[0].String()
		}
		return p.Expr
	default:
		return p.Expr
	}
}

func joinPredicates(c *extract.Context) []string {
	var preds []string
	for _, e := range c.JoinGraph {
		preds = append(preds, fmt.Sprintf("%s = %s", e.Left, e.Right))
	}
	return preds
}

func wherePredicates(c *extract.Context) string {
	preds := joinPredicates(c)
	for _, f := range c.FilterPredicates {
		preds = append(preds, fmt.Sprintf("%s %s %s", f.Attrib, f.Op, f.Value.Literal()))
	}
	for _, h := range c.HavingPredicates {
		if h.Separable && h.AsFilter != nil {
			f := h.AsFilter
			preds = append(preds, fmt.Sprintf("%s %s %s", f.Attrib, f.Op, f.Value.Literal()))
		}
	}
	return strings.Join(preds, " AND ")
}

func groupByList(c *extract.Context) string {
	names := make([]string, len(c.GroupByKeys))
	for i, k := range c.GroupByKeys {
		names[i] = k.String()
	}
	return strings.Join(names, ", ")
}

func havingPredicates(c *extract.Context) string {
	var preds []string
	for _, h := range c.HavingPredicates {
		if h.Separable {
			// Resolved to an equivalent WHERE filter by the predicate
			// separator; it belongs in the WHERE clause, not HAVING.
			continue
		}
		preds = append(preds, fmt.Sprintf("%s(%s) %s %s", h.Fn, h.Attrib, h.Op, h.Value.Literal()))
	}
	return strings.Join(preds, " AND ")
}

func orderByList(c *extract.Context) string {
	parts := make([]string, len(c.OrderBy))
	for i, item := range c.OrderBy {
		name := fmt.Sprintf("col%d", item.ProjectionIndex)
		if item.ProjectionIndex < len(c.Projections) {
			name = c.Projections[item.ProjectionIndex].Name
		}
		if item.Descending {
			parts[i] = name + " DESC"
		} else {
			parts[i] = name + " ASC"
		}
	}
	return strings.Join(parts, ", ")
}
