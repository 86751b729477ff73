// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"testing"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
	"github.com/stretchr/testify/assert"
)

func intVals(vs ...int64) []sqltype.Value {
	out := make([]sqltype.Value, len(vs))
	for i, v := range vs {
		out[i] = sqltype.Int(sqltype.KindInteger, v)
	}
	return out
}

func TestCheckSortOrderAscending(t *testing.T) {
	assert.Equal(t, "asc", checkSortOrder(intVals(1, 2, 2, 5)))
}

func TestCheckSortOrderDescending(t *testing.T) {
	assert.Equal(t, "desc", checkSortOrder(intVals(9, 5, 5, 1)))
}

func TestCheckSortOrderUnordered(t *testing.T) {
	assert.Equal(t, "", checkSortOrder(intVals(1, 5, 2)))
}

func TestCheckSortOrderTooFewValues(t *testing.T) {
	assert.Equal(t, "", checkSortOrder(intVals(1)))
	assert.Equal(t, "", checkSortOrder(nil))
}

func TestIsJoinAttribute(t *testing.T) {
	left := Attribute{Table: "orders", Column: "o_custkey"}
	right := Attribute{Table: "customer", Column: "c_custkey"}
	c := &Context{JoinGraph: []JoinEdge{{Left: left, Right: right}}}

	assert.True(t, isJoinAttribute(c, left))
	assert.True(t, isJoinAttribute(c, right))
	assert.False(t, isJoinAttribute(c, Attribute{Table: "orders", Column: "o_totalprice"}))
}
