// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

// projectionExtractor recovers the SELECT list: for each output column
// position it first classifies the column (constant, a verbatim base
// attribute, or a polynomial of one or more attributes) by testing which
// core attributes changing value actually moves that output column, then,
// for the polynomial case, solves for the exact coefficients by mutating
// the dependency attributes through 2^n independent probes and solving the
// resulting linear system.
//
// Grounded on projection_extractor.py's find_projection_deps (impact
// testing) and get_solution (the 2^n probe matrix + linear solve).
func projectionExtractor(ctx context.Context, c *Context) error {
	width, err := outputWidth(ctx, c)
	if err != nil {
		return fmt.Errorf("%w: determine output width: %v", ErrFatalConfiguration, err)
	}

	candidates := allAttributes(c)

	projections := make([]Projection, width)
	for i := 0; i < width; i++ {
		deps, err := findDependencies(ctx, c, i, candidates)
		if err != nil {
			return fmt.Errorf("find dependencies of output column %d: %w", i, err)
		}

		proj, err := classifyProjection(ctx, c, i, deps)
		if err != nil {
			return fmt.Errorf("classify output column %d: %w", i, err)
		}
		proj.Name = fmt.Sprintf("col%d", i)
		projections[i] = proj
	}

	c.SetProjections(projections)
	return nil
}

func outputWidth(ctx context.Context, c *Context) (int, error) {
	rows, err := c.Conn.QueryContext(ctx, c.HiddenQuery)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	return len(cols), nil
}

func allAttributes(c *Context) []Attribute {
	var out []Attribute
	for _, table := range c.CoreRelations() {
		out = append(out, c.Attributes[table]...)
	}
	return out
}

// findDependencies tests each candidate attribute for impact on output
// column i: set the attribute to a fixed dummy value on every row of its
// table and see whether the first result row's value in column i changes.
// Grounded on
// check_impact_of_single_attrib.
func findDependencies(ctx context.Context, c *Context, col int, candidates []Attribute) ([]Attribute, error) {
	var deps []Attribute
	for _, attr := range candidates {
		impacted, err := attributeImpactsColumn(ctx, c, attr, col)
		if err != nil {
			return nil, err
		}
		if impacted {
			deps = append(deps, attr)
		}
	}
	return deps, nil
}

func attributeImpactsColumn(ctx context.Context, c *Context, attr Attribute, col int) (bool, error) {
	before, err := firstRowValue(ctx, c.Conn, c.HiddenQuery, col)
	if err != nil {
		return false, err
	}

	var impacted bool
	err = c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		bumped := sqltype.Dummy(attr.Kind, func(sqltype.Value) bool { return false }).Plus(3)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET %s = %s`, quote(attr.Table), quote(attr.Column), bumped.Literal())); err != nil {
			return err
		}

		after, err := firstRowValueTx(ctx, tx, c.HiddenQuery, col)
		if err != nil {
			return err
		}
		impacted = before != after
		return errRollbackProbe
	})
	if err != nil && err != errRollbackProbe {
		return false, err
	}
	return impacted, nil
}

func firstRowValue(ctx context.Context, conn interface {
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
}, query string, col int) (string, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	return scanColAsText(rows, col)
}

func firstRowValueTx(ctx context.Context, tx *sql.Tx, query string, col int) (string, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	return scanColAsText(rows, col)
}

func scanColAsText(rows *sql.Rows, col int) (string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	if !rows.Next() {
		return "", rows.Err()
	}
	dest := make([]interface{}, len(cols))
	raw := make([]sql.NullString, len(cols))
	for i := range dest {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return "", err
	}
	if col >= len(raw) {
		return "", fmt.Errorf("column index %d out of range (width %d)", col, len(raw))
	}
	return raw[col].String, nil
}

// classifyProjection decides, given the dependency set already found for
// column col, whether it's a constant, a verbatim attribute, or a genuine
// polynomial requiring the 2^n probe-and-solve procedure.
func classifyProjection(ctx context.Context, c *Context, col int, deps []Attribute) (Projection, error) {
	if len(deps) == 0 {
		val, err := firstRowValue(ctx, c.Conn, c.HiddenQuery, col)
		if err != nil {
			return Projection{}, err
		}
		return Projection{Kind: ProjConstant, Const: sqltype.Text(val)}, nil
	}

	if len(deps) == 1 {
		isVerbatim, err := columnEqualsAttribute(ctx, c, col, deps[0])
		if err != nil {
			return Projection{}, err
		}
		if isVerbatim {
			return Projection{Kind: ProjAttribute, Deps: deps, Expr: deps[0].String()}, nil
		}
	}

	coeffs, terms, err := solveProjectionPolynomial(ctx, c, col, deps)
	if err != nil {
		return Projection{}, err
	}
	return Projection{
		Kind: ProjPolynomial,
		Deps: deps,
		Expr: buildExpression(deps, terms, coeffs),
	}, nil
}

// columnEqualsAttribute decides whether output column col is exactly the
// bare value of attr. Direct comparison against the hidden query's output
// would require aligning rows between two independent result sets, which
// the pipeline's other probes avoid entirely by mutating a single row and
// re-running the hidden query in the same transaction instead: bump attr by
// a known delta, confirm the output column moves by exactly that delta, and
// confirm its new value equals attr's own value read back in the same
// transaction (which rules out attr plus a constant).
func columnEqualsAttribute(ctx context.Context, c *Context, col int, attr Attribute) (bool, error) {
	return probeLinearIdentity(ctx, c, col, attr)
}

func probeLinearIdentity(ctx context.Context, c *Context, col int, attr Attribute) (bool, error) {
	if attr.Kind == sqltype.KindText || attr.Kind == sqltype.KindDate {
		// Text/date columns can only be projected verbatim or as a constant;
		// a single string/date dependency with no further structure is
		// necessarily a verbatim projection.
		return true, nil
	}

	before, err := firstRowValue(ctx, c.Conn, c.HiddenQuery, col)
	if err != nil {
		return false, err
	}

	var isLinear bool
	err = c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET %s = %s + 5`, quote(attr.Table), quote(attr.Column), quote(attr.Column))); err != nil {
			return err
		}
		after, err := firstRowValueTx(ctx, tx, c.HiddenQuery, col)
		if err != nil {
			return err
		}
		current, err := firstRowValueTx(ctx, tx, fmt.Sprintf(
			`SELECT %s::text FROM %s`, quote(attr.Column), quote(attr.Table)), 0)
		if err != nil {
			return err
		}
		isLinear = (before != "" && after != "") && valueShiftedBy(before, after, 5) &&
			valueShiftedBy(current, after, 0)
		return errRollbackProbe
	})
	if err != nil && err != errRollbackProbe {
		return false, err
	}
	return isLinear, nil
}

func valueShiftedBy(before, after string, delta float64) bool {
	var b, a float64
	if _, err := fmt.Sscanf(before, "%f", &b); err != nil {
		return false
	}
	if _, err := fmt.Sscanf(after, "%f", &a); err != nil {
		return false
	}
	return a-b == delta
}

// solveProjectionPolynomial runs 2^n probes, one per monomial term over
// deps, each assigning the dependency attributes a distinct coefficient
// pattern and recording the resulting output value, then solves the
// resulting linear system for each monomial's coefficient.
func solveProjectionPolynomial(ctx context.Context, c *Context, col int, deps []Attribute) ([]float64, [][]int, error) {
	terms := monomials(deps)
	n := len(terms)

	design := make([][]float64, n)
	observed := make([]float64, n)

	for row := 0; row < n; row++ {
		coeffRow, obs, err := probeMonomialRow(ctx, c, col, deps, terms, row)
		if err != nil {
			return nil, nil, err
		}
		design[row] = coeffRow
		observed[row] = obs
	}

	coeffs, err := solveCoefficients(design, observed)
	if err != nil {
		return nil, nil, err
	}
	return coeffs, terms, nil
}

// probeMonomialRow assigns dependency attribute i the value 2+i when bit i
// of row is clear and 3+i when it is set, so the 2^n probes cover every
// combination of two distinct values per attribute and the design matrix is
// invertible. It evaluates every monomial term's product under that
// assignment for the design matrix row, then runs the hidden query to
// observe column col's value.
func probeMonomialRow(ctx context.Context, c *Context, col int, deps []Attribute, terms [][]int, row int) ([]float64, float64, error) {
	values := make([]float64, len(deps))
	for i := range deps {
		values[i] = float64(2+i) + float64((row>>i)&1)
	}

	designRow := make([]float64, len(terms))
	for j, term := range terms {
		product := 1.0
		for _, idx := range term {
			product *= values[idx]
		}
		designRow[j] = product
	}

	var observed float64
	err := c.Conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for i, attr := range deps {
			v := sqltype.NumericFromInt(int64(values[i]))
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE %s SET %s = %s`, quote(attr.Table), quote(attr.Column), v.Literal())); err != nil {
				return err
			}
		}

		text, err := firstRowValueTx(ctx, tx, c.HiddenQuery, col)
		if err != nil {
			return err
		}
		if _, err := fmt.Sscanf(text, "%f", &observed); err != nil {
			return fmt.Errorf("%w: non-numeric projection output during polynomial solve: %v", ErrAlgorithmicFailure, err)
		}
		return errRollbackProbe
	})
	if err != nil && err != errRollbackProbe {
		return nil, 0, err
	}
	return designRow, observed, nil
}
