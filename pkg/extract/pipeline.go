// SPDX-License-Identifier: Apache-2.0

// Package extract implements the pgunmask reconstruction pipeline: a fixed
// sequence of stages that mutate and probe a live copy of the target
// database to recover the text of a hidden SPJGHO query one structural
// piece at a time.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/pgunmask/pgunmask/pkg/db"
	"github.com/pgunmask/pgunmask/pkg/schema"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the default pterm-backed logger.
func WithLogger(l Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline drives the extraction stages in order against a single
// connection. It owns backing up and restoring the relations it mutates,
// the way the reference implementation's Pipeline context manager does.
type Pipeline struct {
	conn   db.DB
	schema string
	query  string
	graph  *schema.KeyGraph
	logger Logger

	backedUp []string
}

// New constructs a Pipeline against an already-open connection.
func New(conn db.DB, schemaName, hiddenQuery string, graph *schema.KeyGraph, opts ...Option) *Pipeline {
	p := &Pipeline{
		conn:   conn,
		schema: schemaName,
		query:  hiddenQuery,
		graph:  graph,
		logger: NewLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes every stage in the fixed order mandated by the system
// design, accumulating results into a fresh Context, and restores the
// database to its original state before returning (success or failure).
func (p *Pipeline) Run(ctx context.Context) (*Context, error) {
	names, err := p.conn.TableNames(ctx, p.schema)
	if err != nil {
		return nil, fmt.Errorf("%w: list tables: %v", ErrFatalConfiguration, err)
	}

	backedUp, err := backupRelations(ctx, p.conn, names)
	if err != nil {
		return nil, fmt.Errorf("%w: backup relations: %v", ErrFatalConfiguration, err)
	}
	p.backedUp = backedUp
	defer func() {
		// Restore even when ctx has been cancelled.
		if err := restoreRelations(context.WithoutCancel(ctx), p.conn, p.backedUp); err != nil {
			p.logger.Warn("failed to restore backed up relations: %v", err)
		}
	}()

	c := NewContext(p.conn, p.schema, p.query, p.graph)
	c.SetLogger(p.logger)

	stages := []struct {
		name string
		run  func(context.Context, *Context) error
	}{
		{"from", fromExtractor},
		{"metadata", metadataExtractor},
		{"sample", correlatedSampler},
		{"minimize", minimizer},
		{"join", joinExtractor},
		{"groupby", groupByExtractor},
		{"predicate", predicateExtractor},
		{"projection", projectionExtractor},
		{"aggregation", aggregationExtractor},
		{"separate", predicateSeparator},
		{"orderby", orderByExtractor},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("before stage %q: %w", s.name, err)
		}
		p.logger.StageStart(s.name)
		start := time.Now()
		if err := s.run(ctx, c); err != nil {
			return nil, fmt.Errorf("stage %q: %w", s.name, err)
		}
		took := time.Since(start)
		c.recordTiming(s.name, took)
		p.logger.StageComplete(s.name, took)
	}

	return c, nil
}

