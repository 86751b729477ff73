// SPDX-License-Identifier: Apache-2.0

// Package schema loads the declared primary-key/foreign-key graph of the
// target database from a CSV sidecar file, since the extractor treats the
// schema's key structure as known up front rather than something to
// reverse-engineer.
package schema

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// KeyGraph is the parsed declaration of every table's primary key and every
// foreign key edge between tables.
type KeyGraph struct {
	// Tables is the set of table names named anywhere in the sidecar.
	Tables []string

	// PrimaryKey maps a table name to its primary key column names.
	PrimaryKey map[string][]string

	// Edges is the set of foreign key edges, child -> parent.
	Edges []Edge
}

// Edge is a single declared foreign key column pairing.
type Edge struct {
	ChildTable   string
	ChildColumn  string
	ParentTable  string
	ParentColumn string
}

// sidecar row layout, grounded on the six-column CSV format used by the
// reference implementation's pk/fk sidecar: child_table, child_column,
// is_primary_key, is_foreign_key, parent_table, parent_column. A row with
// is_primary_key set declares a primary key column, and a row with
// is_foreign_key set declares a foreign key edge to parent_table/
// parent_column; a row may set both flags and then declares both.
const (
	colChildTable   = 0
	colChildColumn  = 1
	colIsPK         = 2
	colIsFK         = 3
	colParentTable  = 4
	colParentColumn = 5
)

// LoadKeyGraph parses the PK/FK sidecar CSV at path.
func LoadKeyGraph(path string) (*KeyGraph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key sidecar: %w", err)
	}
	defer f.Close()

	return parseKeyGraph(f)
}

func parseKeyGraph(r io.Reader) (*KeyGraph, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6
	cr.TrimLeadingSpace = true

	g := &KeyGraph{
		PrimaryKey: make(map[string][]string),
	}
	seen := make(map[string]bool)

	lineNo := 0
	for {
		lineNo++
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse key sidecar at line %d: %w", lineNo, err)
		}
		if lineNo == 1 && looksLikeHeader(rec) {
			continue
		}

		child := rec[colChildTable]
		if !seen[child] {
			seen[child] = true
			g.Tables = append(g.Tables, child)
		}

		if rec[colIsPK] == "1" || rec[colIsPK] == "true" {
			g.PrimaryKey[child] = append(g.PrimaryKey[child], rec[colChildColumn])
		}

		if rec[colIsFK] == "1" || rec[colIsFK] == "true" {
			parentTable := rec[colParentTable]
			if parentTable == "" {
				return nil, fmt.Errorf("parse key sidecar at line %d: foreign key row missing parent table", lineNo)
			}
			if !seen[parentTable] {
				seen[parentTable] = true
				g.Tables = append(g.Tables, parentTable)
			}
			g.Edges = append(g.Edges, Edge{
				ChildTable:   child,
				ChildColumn:  rec[colChildColumn],
				ParentTable:  parentTable,
				ParentColumn: rec[colParentColumn],
			})
		}
	}

	return g, nil
}

func looksLikeHeader(rec []string) bool {
	return rec[colChildTable] == "child_table" || rec[colChildTable] == "table"
}

// KeyClique is a set of tables transitively joined together through a chain
// of foreign key edges, together with those edges; the join extractor
// tests the clique's edges one at a time.
type KeyClique struct {
	Tables []string
	Edges  []Edge
}

// Cliques partitions the graph's tables into key cliques via a union-find
// closure over the foreign key edges: two tables are in the same clique iff
// there's a path of foreign key edges between them, regardless of
// direction.
func (g *KeyGraph) Cliques() []KeyClique {
	parent := make(map[string]string, len(g.Tables))
	for _, t := range g.Tables {
		parent[t] = t
	}

	var find func(string) string
	find = func(t string) string {
		if parent[t] != t {
			parent[t] = find(parent[t])
		}
		return parent[t]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, e := range g.Edges {
		union(e.ChildTable, e.ParentTable)
	}

	byRoot := make(map[string][]string)
	for _, t := range g.Tables {
		root := find(t)
		byRoot[root] = append(byRoot[root], t)
	}

	edgesByRoot := make(map[string][]Edge)
	for _, e := range g.Edges {
		root := find(e.ChildTable)
		edgesByRoot[root] = append(edgesByRoot[root], e)
	}

	cliques := make([]KeyClique, 0, len(byRoot))
	for root, tables := range byRoot {
		cliques = append(cliques, KeyClique{Tables: tables, Edges: edgesByRoot[root]})
	}
	return cliques
}

// NeighborTables returns the distinct table names joined directly to table
// by a foreign key edge in either direction.
func (g *KeyGraph) NeighborTables(table string) []string {
	seen := map[string]bool{table: true}
	var out []string
	for _, e := range g.Edges {
		if e.ChildTable == table && !seen[e.ParentTable] {
			seen[e.ParentTable] = true
			out = append(out, e.ParentTable)
		}
		if e.ParentTable == table && !seen[e.ChildTable] {
			seen[e.ChildTable] = true
			out = append(out, e.ChildTable)
		}
	}
	return out
}
