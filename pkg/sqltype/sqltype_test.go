// SPDX-License-Identifier: Apache-2.0

package sqltype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromPostgres(t *testing.T) {
	cases := map[string]Kind{
		"integer":   KindInteger,
		"bigint":    KindInteger,
		"numeric":   KindNumeric,
		"date":      KindDate,
		"timestamp": KindDate,
		"text":      KindText,
		"varchar":   KindText,
	}
	for pgType, want := range cases {
		assert.Equal(t, want, KindFromPostgres(pgType), pgType)
	}
}

func TestPlusInteger(t *testing.T) {
	v := Int(KindInteger, 5)
	require.Equal(t, int64(8), v.Plus(3).I)
}

func TestPlusText(t *testing.T) {
	assert.Equal(t, "b", Text("a").Plus(1).S)
	assert.Equal(t, "aa", Text("z").Plus(1).S)
	assert.Equal(t, "ab", Text("z").Plus(2).S)
}

func TestPlusDate(t *testing.T) {
	v := Date(epoch)
	got := v.Plus(2)
	assert.Equal(t, epoch.AddDate(0, 0, 2), got.D)
}

func TestDummyAvoidsUsed(t *testing.T) {
	used := map[int64]bool{2: true, 3: true}
	v := Dummy(KindInteger, func(v Value) bool { return used[v.I] })
	assert.Equal(t, int64(4), v.I)
}

func TestLiteralEscapesQuotes(t *testing.T) {
	assert.Equal(t, "'o''brien'", Text("o'brien").Literal())
}

func TestLessNumeric(t *testing.T) {
	a := NumericFromInt(1)
	b := NumericFromInt(2)
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}
