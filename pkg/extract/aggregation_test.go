// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"testing"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
	"github.com/stretchr/testify/assert"
)

func TestClassifyAggregateSum(t *testing.T) {
	alpha, o1, o2 := 3.0, 10.0, 20.0
	projVal := alpha*o1 + o2
	assert.Equal(t, AggSum, classifyAggregate(alpha, o1, o2, projVal))
}

func TestClassifyAggregateAvg(t *testing.T) {
	alpha, o1, o2 := 3.0, 10.0, 20.0
	projVal := (alpha*o1 + o2) / (alpha + 1)
	assert.Equal(t, AggAvg, classifyAggregate(alpha, o1, o2, projVal))
}

func TestClassifyAggregateMin(t *testing.T) {
	alpha, o1, o2 := 3.0, 10.0, 20.0
	assert.Equal(t, AggMin, classifyAggregate(alpha, o1, o2, 10))
}

func TestClassifyAggregateMax(t *testing.T) {
	alpha, o1, o2 := 3.0, 10.0, 20.0
	assert.Equal(t, AggMax, classifyAggregate(alpha, o1, o2, 20))
}

func TestClassifyAggregateCount(t *testing.T) {
	alpha, o1, o2 := 3.0, 10.0, 20.0
	assert.Equal(t, AggCount, classifyAggregate(alpha, o1, o2, alpha+1))
}

func TestClassifyAggregateNoMatch(t *testing.T) {
	assert.Equal(t, AggregateFn(""), classifyAggregate(3, 10, 20, 999))
}

func TestIsForbiddenAlphaZero(t *testing.T) {
	assert.True(t, isForbiddenAlpha(0, 10, 20))
}

func TestIsForbiddenAlphaMatchesO1OrO2(t *testing.T) {
	assert.True(t, isForbiddenAlpha(10, 10, 20))
	assert.True(t, isForbiddenAlpha(20, 10, 20))
}

func TestIsForbiddenAlphaOrdinaryValueNotForbidden(t *testing.T) {
	// A generic alpha away from any of the forbidden boundary points.
	assert.False(t, isForbiddenAlpha(3, 10, 20))
}

func TestAggregationProbeBoundsDefaultsWhenUnconstrained(t *testing.T) {
	c := &Context{}
	s1, s2 := aggregationProbeBounds(c, Attribute{Table: "lineitem", Column: "l_quantity"})
	assert.Equal(t, 1.0, s1)
	assert.Equal(t, 100.0, s2)
}

func TestAggregationProbeBoundsUsesFilterBound(t *testing.T) {
	attr := Attribute{Table: "lineitem", Column: "l_quantity"}
	c := &Context{
		FilterPredicates: []FilterPredicate{
			{Attrib: attr, Op: OpGreaterEqual, Value: sqltype.Int(sqltype.KindInteger, 5)},
			{Attrib: attr, Op: OpLessEqual, Value: sqltype.Int(sqltype.KindInteger, 50)},
		},
	}
	s1, s2 := aggregationProbeBounds(c, attr)
	assert.Equal(t, 5.0, s1)
	assert.Equal(t, 50.0, s2)
}
