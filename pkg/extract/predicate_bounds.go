// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

// refinementScale bounds how many decimal places the binary search refines
// a numeric bound to; a lower bound is rounded down (floor) and an upper
// bound rounded up (ceiling) to this many places.
const refinementScale = 6

// probeFn runs the hidden query (or a variant of it) against a database
// that has had a single attribute's value fixed by the caller, and reports
// whether the result was non-empty. Every binary search step goes through
// one of these so the search logic stays independent of exactly which
// filter/row layout the caller is testing.
type probeFn func(ctx context.Context, value sqltype.Value) (nonEmpty bool, err error)

// binarySearchBound finds the tightest bound b such that probe(b) is true
// and probe just past b (in the direction away from admits) is false,
// searching the closed interval [lo, hi]. admitsLower selects which
// direction is "inside" the predicate's admitted range: true searches for a
// lower bound (values >= b are admitted), false searches for an upper bound
// (values <= b are admitted).
//
// Grounded on predicate_extractor.py's binary_search/coarse_search_lb/
// coarse_search_ub/refine_lb/refine_ub. Integer and date kinds are bisected
// step by step; numeric kinds are bisected directly in decimal arithmetic
// in a single phase, with no separate coarse integer pass.
func binarySearchBound(ctx context.Context, lo, hi sqltype.Value, admitsLower bool, probe probeFn) (sqltype.Value, error) {
	switch lo.Kind {
	case sqltype.KindNumeric:
		return binarySearchNumeric(ctx, lo, hi, admitsLower, probe)
	default:
		return binarySearchDiscrete(ctx, lo, hi, admitsLower, probe)
	}
}

// binarySearchDiscrete handles integer and date kinds, where the domain is
// a sequence of distinct, enumerable steps and no fractional refinement is
// needed.
func binarySearchDiscrete(ctx context.Context, lo, hi sqltype.Value, admitsLower bool, probe probeFn) (sqltype.Value, error) {
	for stepsRemaining(lo, hi) > 0 {
		mid := midpoint(lo, hi)
		if !admitsLower {
			// Round the midpoint up so that lo = mid always makes progress.
			mid = midpoint(lo.Plus(1), hi)
		}
		ok, err := probe(ctx, mid)
		if err != nil {
			return sqltype.Value{}, err
		}
		if ok {
			// mid is admitted; tighten toward it from the admitted side.
			if admitsLower {
				hi = mid
			} else {
				lo = mid
			}
		} else {
			if admitsLower {
				lo = mid.Plus(1)
			} else {
				hi = mid.Plus(-1)
			}
		}
	}
	if admitsLower {
		return lo, nil
	}
	return hi, nil
}

// binarySearchNumeric bisects [lo, hi] in decimal arithmetic until the
// interval is at most 10^-refinementScale wide (or 64 steps have run). It
// has no separate coarse integer-scale phase before the decimal bisection.
func binarySearchNumeric(ctx context.Context, lo, hi sqltype.Value, admitsLower bool, probe probeFn) (sqltype.Value, error) {
	for i := 0; i < 64 && !lo.N.Sub(hi.N).Abs().LessThanOrEqual(decimal.New(1, -refinementScale)); i++ {
		mid := sqltype.Numeric(lo.N.Add(hi.N).Div(decimal.NewFromInt(2)))
		ok, err := probe(ctx, mid)
		if err != nil {
			return sqltype.Value{}, err
		}
		if ok {
			if admitsLower {
				hi = mid
			} else {
				lo = mid
			}
		} else {
			if admitsLower {
				lo = mid
			} else {
				hi = mid
			}
		}
	}
	if admitsLower {
		return sqltype.Numeric(hi.N.RoundFloor(refinementScale)), nil
	}
	return sqltype.Numeric(lo.N.RoundCeil(refinementScale)), nil
}

func stepsRemaining(lo, hi sqltype.Value) int64 {
	switch lo.Kind {
	case sqltype.KindInteger:
		return hi.I - lo.I
	case sqltype.KindDate:
		return int64(hi.D.Sub(lo.D).Hours() / 24)
	default:
		return 0
	}
}

func midpoint(lo, hi sqltype.Value) sqltype.Value {
	switch lo.Kind {
	case sqltype.KindInteger:
		return sqltype.Int(lo.Kind, lo.I+(hi.I-lo.I)/2)
	case sqltype.KindDate:
		days := stepsRemaining(lo, hi) / 2
		return lo.Plus(days)
	default:
		return lo
	}
}

// probeWithColumnSet builds a probeFn that, for each candidate value,
// updates attr to that value across every row of its backing table inside a
// rolled-back transaction and reports whether the hidden query still
// returns rows.
func probeWithColumnSet(conn interface {
	WithRetryableTransaction(context.Context, func(context.Context, *sql.Tx) error) error
}, table, column, hiddenQuery string) probeFn {
	return func(ctx context.Context, value sqltype.Value) (bool, error) {
		var nonEmpty bool
		err := conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = %s`,
				quote(table), quote(column), value.Literal())); err != nil {
				return err
			}
			rows, err := tx.QueryContext(ctx, hiddenQuery)
			if err != nil {
				return err
			}
			defer rows.Close()
			nonEmpty = rows.Next()
			if err := rows.Err(); err != nil {
				return err
			}
			return errRollbackProbe
		})
		if err != nil && err != errRollbackProbe {
			return false, err
		}
		return nonEmpty, nil
	}
}
