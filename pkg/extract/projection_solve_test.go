// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonomialsEnumeratesAllSubsets(t *testing.T) {
	deps := []Attribute{{Table: "t", Column: "a"}, {Table: "t", Column: "b"}}
	terms := monomials(deps)
	require.Len(t, terms, 4)
	assert.Equal(t, [][]int{{}, {0}, {1}, {0, 1}}, terms)
}

func TestMonomialsSingleDependency(t *testing.T) {
	deps := []Attribute{{Table: "t", Column: "a"}}
	terms := monomials(deps)
	assert.Equal(t, [][]int{{}, {0}}, terms)
}

func TestSolveCoefficientsLinearSystem(t *testing.T) {
	// y = 2x + 3, probed at x=1 and x=2.
	design := [][]float64{{1, 1}, {1, 2}}
	observed := []float64{5, 7}

	coeffs, err := solveCoefficients(design, observed)
	require.NoError(t, err)
	require.Len(t, coeffs, 2)
	assert.InDelta(t, 3, coeffs[0], 0.01)
	assert.InDelta(t, 2, coeffs[1], 0.01)
}

func TestSolveCoefficientsRejectsMismatchedDimensions(t *testing.T) {
	_, err := solveCoefficients([][]float64{{1, 2}}, []float64{1, 2})
	assert.Error(t, err)
}

func TestSolveCoefficientsSingularDesign(t *testing.T) {
	design := [][]float64{{1, 1}, {1, 1}}
	observed := []float64{5, 5}
	_, err := solveCoefficients(design, observed)
	assert.ErrorIs(t, err, ErrAlgorithmicFailure)
}

func TestBuildExpressionDropsZeroTerms(t *testing.T) {
	deps := []Attribute{{Table: "orders", Column: "o_totalprice"}}
	terms := [][]int{{}, {0}}
	coeffs := []float64{0, 1}

	expr := buildExpression(deps, terms, coeffs)
	assert.Equal(t, "orders.o_totalprice", expr)
}

func TestBuildExpressionConstantAndCoefficient(t *testing.T) {
	deps := []Attribute{{Table: "lineitem", Column: "l_quantity"}}
	terms := [][]int{{}, {0}}
	coeffs := []float64{3, 2}

	expr := buildExpression(deps, terms, coeffs)
	assert.Equal(t, "3 + 2*lineitem.l_quantity", expr)
}

func TestBuildExpressionAllZeroIsZero(t *testing.T) {
	deps := []Attribute{{Table: "t", Column: "a"}}
	terms := [][]int{{}, {0}}
	coeffs := []float64{0, 0}
	assert.Equal(t, "0", buildExpression(deps, terms, coeffs))
}

func TestFormatCoeffIntegerVsDecimal(t *testing.T) {
	assert.Equal(t, "3", formatCoeff(3.0))
	assert.Equal(t, "2.50", formatCoeff(2.5))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 2.56, round2(2.555))
	assert.Equal(t, 2.0, round2(2.001))
}
