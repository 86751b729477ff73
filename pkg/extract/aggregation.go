// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

const maxAggregationAttempts = 8

// aggregationExtractor determines, for every attribute or polynomial
// projection with at least one dependency that is not a GROUP BY key,
// which aggregate function (if any) was applied before projection: SUM,
// AVG, MIN, MAX or COUNT. The probe runs through the projection's first
// dependency only, and is skipped when that dependency is a text or date
// attribute.
//
// The probe substitutes the dependency's table with a synthetic group of
// alpha+1 rows: alpha copies holding value s1 and one row holding s2. Each
// of the five candidate aggregate functions maps (alpha, s1, s2) to a
// distinct observable value, except at a small set of "forbidden" alpha
// values where two candidates coincide; the probe retries at a larger alpha
// whenever it lands on one of those.
//
// Grounded on aggregation_extractor.py's forbidden_set/get_aggr_fn/gen_t1/
// gen_t2/gen_table and the outer alpha-growing retry loop. The SUM-typed
// predicate case (sum_pred_attribs_on_table) and the join-propagation of
// other tables' attributes are both left out here: pgunmask only resolves
// aggregation for the common case of a single unconstrained or
// range-bounded numeric dependency, matching the simplification already
// recorded for predicate separation.
func aggregationExtractor(ctx context.Context, c *Context) error {
	for i := range c.Projections {
		p := &c.Projections[i]
		if p.Kind != ProjPolynomial && p.Kind != ProjAttribute {
			continue
		}
		if len(p.Deps) == 0 || p.GroupByKey {
			continue
		}
		if len(p.Deps) == 1 && isGroupByKeyAttribute(c, p.Deps[0]) {
			p.GroupByKey = true
			continue
		}

		dep := p.Deps[0]
		if dep.Kind == sqltype.KindText || dep.Kind == sqltype.KindDate {
			// Neither the original extractor nor pgunmask attempts
			// aggregation detection over string or date attributes.
			continue
		}

		aggr, err := detectAggregate(ctx, c, dep, i)
		if err != nil {
			return fmt.Errorf("detect aggregate for projection %s: %w", p.Name, err)
		}
		p.Aggregate = aggr
	}

	c.SetAggregationDone()
	return nil
}

func isGroupByKeyAttribute(c *Context, attr Attribute) bool {
	for _, k := range c.GroupByKeys {
		if k == attr {
			return true
		}
	}
	return false
}

// detectAggregate runs the alpha-growing probe loop for a single dependency
// attribute, returning "" if no row-count-1 result was ever observed (the
// projection is not behind an aggregate at all, e.g. it belongs to a join
// attribute with no GROUP BY).
func detectAggregate(ctx context.Context, c *Context, dep Attribute, col int) (AggregateFn, error) {
	s1, s2 := aggregationProbeBounds(c, dep)

	alpha := 3
	for attempt := 0; attempt < maxAggregationAttempts; attempt++ {
		o1, o2, projVal, rowCount, err := probeAggregateGroup(ctx, c, dep, col, s1, s2, alpha)
		if err != nil {
			return "", err
		}
		if rowCount != 1 {
			return "", nil
		}
		if !isForbiddenAlpha(float64(alpha), o1, o2) {
			return classifyAggregate(float64(alpha), o1, o2, projVal), nil
		}
		alpha = (alpha+1)*2 - 1
	}
	return "", nil
}

// aggregationProbeBounds picks two probe values for dep from any WHERE bound
// already known for it, falling back to an arbitrary wide interval when the
// attribute is unconstrained. Grounded on check_predicates' l/u extraction,
// simplified to ignore the HAVING/SUM case.
func aggregationProbeBounds(c *Context, dep Attribute) (float64, float64) {
	var lower, upper *float64
	for _, f := range c.FilterPredicates {
		if f.Attrib != dep {
			continue
		}
		v := valueAsFloat(f.Value)
		switch f.Op {
		case OpGreaterEqual:
			lower = &v
		case OpLessEqual:
			upper = &v
		}
	}

	if lower == nil && upper == nil {
		return 1, 100
	}
	s1, s2 := 0.0, 0.0
	if lower != nil {
		s1 = *lower
	} else {
		s1 = *upper - 100
	}
	if upper != nil {
		s2 = *upper
	} else {
		s2 = *lower + 100
	}
	return s1, s2
}

func valueAsFloat(v sqltype.Value) float64 {
	switch v.Kind {
	case sqltype.KindInteger:
		return float64(v.I)
	case sqltype.KindNumeric:
		f, _ := v.N.Float64()
		return f
	default:
		return 0
	}
}

// probeAggregateGroup replaces dep's table with alpha+1 synthetic rows
// (alpha copies at s1, one at s2), evaluates the joined dependency column
// for each synthetic row (o1, o2), then runs the full hidden query and
// returns its column-col value along with its row count. Grounded on
// gen_table/gen_t1/gen_t2/query_QJ.
func probeAggregateGroup(ctx context.Context, c *Context, dep Attribute, col int, s1, s2 float64, alpha int) (o1, o2, projVal float64, rowCount int, err error) {
	err = c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		suffix := uuid.New().String()[:8]
		t1, t2 := "aggr_scratch_t1_"+suffix, "aggr_scratch_t2_"+suffix
		stmts := []string{
			fmt.Sprintf(`CREATE TEMP TABLE %s (LIKE %s INCLUDING ALL)`, t1, quote(dep.Table)),
			fmt.Sprintf(`CREATE TEMP TABLE %s (LIKE %s INCLUDING ALL)`, t2, quote(dep.Table)),
			fmt.Sprintf(`INSERT INTO %s SELECT * FROM %s LIMIT 1`, t1, quote(dep.Table)),
			fmt.Sprintf(`INSERT INTO %s SELECT * FROM %s LIMIT 1`, t2, quote(dep.Table)),
			fmt.Sprintf(`UPDATE %s SET %s = %s`, t1, quote(dep.Column), sqltype.NumericFromInt(int64(s1)).Literal()),
			fmt.Sprintf(`UPDATE %s SET %s = %s`, t2, quote(dep.Column), sqltype.NumericFromInt(int64(s2)).Literal()),
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		o1Text, err := firstRowValueTx(ctx, tx, queryJoinedAttribute(c, dep, t1), 0)
		if err != nil {
			return err
		}
		o2Text, err := firstRowValueTx(ctx, tx, queryJoinedAttribute(c, dep, t2), 0)
		if err != nil {
			return err
		}
		o1, err = parseFloat(o1Text)
		if err != nil {
			return err
		}
		o2, err = parseFloat(o2Text)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, quote(dep.Table))); err != nil {
			return err
		}
		for i := 0; i < alpha; i++ {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`INSERT INTO %s SELECT * FROM %s LIMIT 1`, quote(dep.Table), t1)); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s SELECT * FROM %s LIMIT 1`, quote(dep.Table), t2)); err != nil {
			return err
		}

		n, err := countRowsTx(ctx, tx, c.HiddenQuery)
		if err != nil {
			return err
		}
		rowCount = n
		if n == 1 {
			text, err := firstRowValueTx(ctx, tx, c.HiddenQuery, col)
			if err != nil {
				return err
			}
			projVal, err = parseFloat(text)
			if err != nil {
				return err
			}
		}
		return errRollbackProbe
	})
	if err != nil && err != errRollbackProbe {
		return 0, 0, 0, 0, err
	}
	return o1, o2, projVal, rowCount, nil
}

// queryJoinedAttribute renders the join-graph query over the core relations
// with dep.Table replaced by the given scratch table name, projecting only
// dep's column. Grounded on query_QJ.
func queryJoinedAttribute(c *Context, dep Attribute, substitute string) string {
	var from []string
	for _, t := range c.CoreRelations() {
		if t == dep.Table {
			from = append(from, fmt.Sprintf("%s AS %s", substitute, quote(t)))
		} else {
			from = append(from, quote(t))
		}
	}
	query := fmt.Sprintf("SELECT %s.%s::text FROM %s", quote(dep.Table), quote(dep.Column), strings.Join(from, ", "))

	var conds []string
	for _, e := range c.JoinGraph {
		conds = append(conds, fmt.Sprintf("%s.%s = %s.%s",
			quote(e.Left.Table), quote(e.Left.Column), quote(e.Right.Table), quote(e.Right.Column)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query
}

func parseFloat(s string) (float64, error) {
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
		return 0, fmt.Errorf("%w: non-numeric aggregation probe value %q: %v", ErrAlgorithmicFailure, s, err)
	}
	return f, nil
}

// isForbiddenAlpha reports whether alpha is one of the handful of values at
// which two candidate aggregate functions would produce the same observable
// result for this (o1, o2) pair, making the probe inconclusive. Grounded on
// forbidden_set.
func isForbiddenAlpha(alpha, o1, o2 float64) bool {
	forbidden := []float64{0, o1, o2, o1 - 1, o2 - 1}
	if o1 != 0 {
		forbidden = append(forbidden, (o1-o2)/o1)
	}
	if o1 != 1 {
		forbidden = append(forbidden, (1-o2)/(o1-1))
	}
	if disc := (o1-2)*(o1-2) - 4*(1-o2); disc >= 0 {
		forbidden = append(forbidden, ((o1-2)+math.Sqrt(disc))/2)
	}
	for _, f := range forbidden {
		if math.Abs(f-alpha) < 1e-9 {
			return true
		}
	}
	return false
}

// classifyAggregate matches the observed projection value against each
// candidate aggregate's predicted value for this (alpha, o1, o2). Grounded
// on get_aggr_fn.
func classifyAggregate(alpha, o1, o2, projVal float64) AggregateFn {
	round := func(f float64) float64 { return math.Round(f*100) / 100 }

	rpv := round(projVal)
	rsum := round(alpha*o1 + o2)
	ravg := round((alpha*o1 + o2) / (alpha + 1))
	rmin := round(math.Min(o1, o2))
	rmax := round(math.Max(o1, o2))
	rcount := alpha + 1

	switch {
	case rpv == rsum:
		return AggSum
	case rpv == ravg:
		return AggAvg
	case rpv == rmin:
		return AggMin
	case rpv == rmax:
		return AggMax
	case rpv == rcount:
		return AggCount
	default:
		return ""
	}
}
