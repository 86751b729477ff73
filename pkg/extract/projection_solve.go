// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// monomials returns every subset-product term over deps, ordered so that
// the empty subset (the constant term) comes first. For n dependencies this
// produces 2^n terms, matching get_subsets/get_param_values_external: the
// projection is assumed to be expressible as a linear combination of all
// subset products of its dependency attributes, which is general enough to
// capture any polynomial the extractor's probing can distinguish using 2^n
// independent probes.
func monomials(deps []Attribute) [][]int {
	n := len(deps)
	out := make([][]int, 0, 1<<n)
	for mask := 0; mask < (1 << n); mask++ {
		var term []int
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				term = append(term, i)
			}
		}
		out = append(out, term)
	}
	return out
}

// solveCoefficients solves the 2^n x 2^n linear system mapping each probe's
// monomial evaluation to its observed hidden-query output value, recovering
// the coefficient of every monomial term. Grounded on get_solution's use of
// numpy.linalg.solve over a Vandermonde-like design matrix; gonum's mat
// package plays the same role here.
func solveCoefficients(design [][]float64, observed []float64) ([]float64, error) {
	n := len(observed)
	if len(design) != n {
		return nil, fmt.Errorf("design matrix has %d rows, want %d", len(design), n)
	}

	flat := make([]float64, 0, n*n)
	for _, row := range design {
		if len(row) != n {
			return nil, fmt.Errorf("design matrix row has %d columns, want %d", len(row), n)
		}
		flat = append(flat, row...)
	}

	A := mat.NewDense(n, n, flat)
	b := mat.NewVecDense(n, observed)

	var x mat.VecDense
	if err := x.SolveVec(A, b); err != nil {
		return nil, fmt.Errorf("%w: singular probe design: %v", ErrAlgorithmicFailure, err)
	}

	coeffs := make([]float64, n)
	for i := 0; i < n; i++ {
		coeffs[i] = round2(x.AtVec(i))
	}
	return coeffs, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// buildExpression assembles the final polynomial string from the solved
// coefficients and the monomial term list, dropping zero-coefficient terms
// and rendering a coefficient of 1 without a leading "1*". This plays the
// role of build_equation/build_equation_helper without going through a
// symbolic algebra simplification pass: Go has no ecosystem equivalent of
// sympy, so the polynomial is printed directly in expanded form instead of
// being factored.
func buildExpression(deps []Attribute, terms [][]int, coeffs []float64) string {
	var parts []string
	for i, term := range terms {
		c := coeffs[i]
		if c == 0 {
			continue
		}
		if len(term) == 0 {
			parts = append(parts, formatCoeff(c))
			continue
		}
		var factors []string
		for _, idx := range term {
			factors = append(factors, deps[idx].String())
		}
		product := strings.Join(factors, "*")
		if c == 1 {
			parts = append(parts, product)
		} else if c == -1 {
			parts = append(parts, "-"+product)
		} else {
			parts = append(parts, fmt.Sprintf("%s*%s", formatCoeff(c), product))
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " + ")
}

func formatCoeff(c float64) string {
	if c == math.Trunc(c) {
		return fmt.Sprintf("%d", int64(c))
	}
	return fmt.Sprintf("%.2f", c)
}
