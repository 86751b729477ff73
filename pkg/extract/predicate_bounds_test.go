// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
)

// admitsAtLeast simulates a WHERE col >= bound predicate: the hidden query
// is "non-empty" for any probed value >= bound.
func admitsAtLeast(bound int64) probeFn {
	return func(_ context.Context, value sqltype.Value) (bool, error) {
		return value.I >= bound, nil
	}
}

// admitsAtMost simulates a WHERE col <= bound predicate.
func admitsAtMost(bound int64) probeFn {
	return func(_ context.Context, value sqltype.Value) (bool, error) {
		return value.I <= bound, nil
	}
}

func TestBinarySearchDiscreteFindsLowerBound(t *testing.T) {
	lo := sqltype.Int(sqltype.KindInteger, 0)
	hi := sqltype.Int(sqltype.KindInteger, 100)

	found, err := binarySearchBound(context.Background(), lo, hi, true, admitsAtLeast(37))
	require.NoError(t, err)
	assert.Equal(t, int64(37), found.I)
}

func TestBinarySearchDiscreteFindsUpperBound(t *testing.T) {
	lo := sqltype.Int(sqltype.KindInteger, 0)
	hi := sqltype.Int(sqltype.KindInteger, 100)

	found, err := binarySearchBound(context.Background(), lo, hi, false, admitsAtMost(63))
	require.NoError(t, err)
	assert.Equal(t, int64(63), found.I)
}

func TestBinarySearchDiscreteUnconstrainedReturnsNaturalBound(t *testing.T) {
	lo := sqltype.Int(sqltype.KindInteger, 0)
	hi := sqltype.Int(sqltype.KindInteger, 100)

	// Always admitted: no real lower bound, search should settle at lo.
	alwaysTrue := func(_ context.Context, _ sqltype.Value) (bool, error) { return true, nil }

	found, err := binarySearchBound(context.Background(), lo, hi, true, alwaysTrue)
	require.NoError(t, err)
	assert.Equal(t, lo.I, found.I)
}

func TestBinarySearchNumericFindsLowerBound(t *testing.T) {
	lo := sqltype.Numeric(decimal.NewFromInt(0))
	hi := sqltype.Numeric(decimal.NewFromInt(100))

	probe := func(_ context.Context, value sqltype.Value) (bool, error) {
		return value.N.GreaterThanOrEqual(decimal.NewFromFloat(12.5)), nil
	}

	found, err := binarySearchBound(context.Background(), lo, hi, true, probe)
	require.NoError(t, err)
	assert.True(t, found.N.Sub(decimal.NewFromFloat(12.5)).Abs().LessThanOrEqual(decimal.New(1, -5)))
}

func TestMidpointInteger(t *testing.T) {
	lo := sqltype.Int(sqltype.KindInteger, 0)
	hi := sqltype.Int(sqltype.KindInteger, 10)
	assert.Equal(t, int64(5), midpoint(lo, hi).I)
}

func TestStepsRemainingInteger(t *testing.T) {
	lo := sqltype.Int(sqltype.KindInteger, 3)
	hi := sqltype.Int(sqltype.KindInteger, 9)
	assert.Equal(t, int64(6), stepsRemaining(lo, hi))
}
