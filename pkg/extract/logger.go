// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
)

// Logger is the structured logging interface every pipeline stage reports
// progress through, mirroring the migration logger's shape but recast for a
// probe-and-reconstruct pipeline instead of a DDL migration run.
type Logger interface {
	StageStart(stage string)
	StageComplete(stage string, d time.Duration)
	Probe(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Info(format string, args ...interface{})
}

// pipelineLogger is the default Logger, backed by pterm the way
// migrationLogger is in the teacher's migration runner.
type pipelineLogger struct {
	logger *pterm.Logger
}

// NewLogger returns a Logger that writes structured, leveled output via
// pterm.
func NewLogger() Logger {
	return &pipelineLogger{logger: pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)}
}

func (l *pipelineLogger) StageStart(stage string) {
	l.logger.Info("stage started", l.logger.Args("stage", stage))
}

func (l *pipelineLogger) StageComplete(stage string, d time.Duration) {
	l.logger.Info("stage complete", l.logger.Args("stage", stage, "elapsed", d.String()))
}

func (l *pipelineLogger) Probe(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *pipelineLogger) Warn(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *pipelineLogger) Info(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// noopLogger discards everything; used in unit tests that don't care about
// progress output.
type noopLogger struct{}

// NewNoopLogger returns a Logger that discards all output.
func NewNoopLogger() Logger { return &noopLogger{} }

func (noopLogger) StageStart(string)                     {}
func (noopLogger) StageComplete(string, time.Duration)   {}
func (noopLogger) Probe(string, ...interface{})          {}
func (noopLogger) Warn(string, ...interface{})           {}
func (noopLogger) Info(string, ...interface{})           {}
