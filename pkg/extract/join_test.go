// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"testing"

	"github.com/pgunmask/pgunmask/pkg/sqltype"
	"github.com/stretchr/testify/assert"
)

func TestColumnKindFindsDeclaredAttribute(t *testing.T) {
	c := &Context{
		Attributes: map[string][]Attribute{
			"orders": {{Table: "orders", Column: "o_orderdate", Kind: sqltype.KindDate}},
		},
	}
	assert.Equal(t, sqltype.KindDate, columnKind(c, "orders", "o_orderdate"))
}

func TestColumnKindDefaultsToIntegerWhenUnknown(t *testing.T) {
	c := &Context{Attributes: map[string][]Attribute{}}
	assert.Equal(t, sqltype.KindInteger, columnKind(c, "orders", "o_orderdate"))
}
