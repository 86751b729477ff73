// SPDX-License-Identifier: Apache-2.0

package extract

import "errors"

// ErrFatalConfiguration marks an error that means the pipeline cannot even
// attempt extraction: a bad connection, an unreadable sidecar, a hidden
// query that doesn't execute at all.
var ErrFatalConfiguration = errors.New("fatal configuration error")

// ErrAlgorithmicFailure marks an error raised by a stage's own sanity
// checks: the projection probes produced a singular linear system, or a
// projection or aggregation probe returned a value that does not parse as
// a number. These indicate the hidden query violates one of the
// pipeline's structural assumptions (must be SPJGHO, no set operations, no
// window functions, and so on).
var ErrAlgorithmicFailure = errors.New("algorithmic failure")

// ErrInvariantViolation marks a bug in the pipeline itself: a stage
// produced or met a state that should be impossible given its own
// preconditions. (A stage recording its result twice panics in the
// Context's Set* methods instead.)
var ErrInvariantViolation = errors.New("invariant violation")

// errRollbackProbe is returned from inside a WithRetryableTransaction
// closure to force an unconditional rollback once the probe has observed
// what it needed to observe. It is never surfaced to a caller: stages that
// use it check for it explicitly and discard it.
var errRollbackProbe = errors.New("extract: probe rollback")
