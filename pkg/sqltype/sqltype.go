// SPDX-License-Identifier: Apache-2.0

// Package sqltype holds the small set of value kinds the extractor needs to
// reason about when it mutates probe databases: integers, exact decimals,
// dates and text. Every stage that has to invent, bump or bound a column
// value goes through a Value rather than switching on a raw Postgres type
// name itself.
package sqltype

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the semantic type family a column is treated as for the purposes
// of probe-value generation. It is coarser than a Postgres type name: all
// integer types map to KindInteger, all exact and floating numeric types
// map to KindNumeric, and so on.
type Kind int

const (
	KindInteger Kind = iota
	KindNumeric
	KindDate
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindNumeric:
		return "numeric"
	case KindDate:
		return "date"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// KindFromPostgres maps an information_schema / sidecar-declared type name
// to the coarse Kind used throughout the extractor.
func KindFromPostgres(pgType string) Kind {
	switch pgType {
	case "smallint", "integer", "bigint", "int", "int2", "int4", "int8", "serial", "bigserial":
		return KindInteger
	case "numeric", "decimal", "real", "double precision", "float", "float4", "float8", "money":
		return KindNumeric
	case "date", "timestamp", "timestamptz", "timestamp without time zone", "timestamp with time zone":
		return KindDate
	default:
		return KindText
	}
}

// Value is a type-tagged probe value. Exactly one of the fields below is
// meaningful, selected by Kind.
type Value struct {
	Kind Kind
	I    int64
	N    decimal.Decimal
	D    time.Time
	S    string
}

func Int(k Kind, i int64) Value       { return Value{Kind: k, I: i} }
func Numeric(n decimal.Decimal) Value { return Value{Kind: KindNumeric, N: n} }
func Date(t time.Time) Value          { return Value{Kind: KindDate, D: t} }
func Text(s string) Value             { return Value{Kind: KindText, S: s} }
func NumericFromInt(i int64) Value    { return Value{Kind: KindNumeric, N: decimal.NewFromInt(i)} }

// NumericFromText parses a decimal literal as read back from Postgres
// (e.g. via a ::text cast). An unparsable value becomes zero rather than an
// error, since callers use this only to seed a search interval.
func NumericFromText(s string) Value {
	n, err := decimal.NewFromString(s)
	if err != nil {
		n = decimal.Zero
	}
	return Value{Kind: KindNumeric, N: n}
}

// DateFromText parses a date as read back from Postgres via a ::text cast.
func DateFromText(s string) Value {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		t = epoch
	}
	return Value{Kind: KindDate, D: t}
}

const dateLayout = "2006-01-02"

// epoch is used as the base date for dummy date generation; it mirrors the
// unused-far-past sentinel the original extractor picks (year 1000) without
// risking an actual Postgres date range violation.
var epoch = time.Date(1000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Min returns the smallest admissible Postgres value for kind, per the
// documented range for each Postgres 8.1+ numeric/date type.
func Min(k Kind) Value {
	switch k {
	case KindInteger:
		return Value{Kind: k, I: -2147483648}
	case KindNumeric:
		return Value{Kind: k, N: decimal.New(-1, 131072)}
	case KindDate:
		return Value{Kind: k, D: time.Date(-4713, time.November, 24, 0, 0, 0, 0, time.UTC)}
	default:
		return Value{Kind: k, S: ""}
	}
}

// Max returns the largest admissible Postgres value for kind.
func Max(k Kind) Value {
	switch k {
	case KindInteger:
		return Value{Kind: k, I: 2147483647}
	case KindNumeric:
		return Value{Kind: k, N: decimal.New(1, 131072)}
	case KindDate:
		return Value{Kind: k, D: time.Date(5874897, time.December, 31, 0, 0, 0, 0, time.UTC)}
	default:
		return Value{Kind: k, S: "￿"}
	}
}

// Dummy returns the first value of kind not present in used, walking the
// kind's increment sequence starting from a fixed base. It mirrors
// get_unused_dummy_val from the projection/orderby extractors: callers need
// a steady supply of values guaranteed not to collide with any in-use key
// or filter value.
func Dummy(k Kind, used func(Value) bool) Value {
	v := base(k)
	for used(v) {
		v = v.Plus(1)
	}
	return v
}

func base(k Kind) Value {
	switch k {
	case KindInteger:
		return Value{Kind: k, I: 2}
	case KindNumeric:
		return Value{Kind: k, N: decimal.NewFromInt(2)}
	case KindDate:
		return Value{Kind: k, D: epoch}
	default:
		return Value{Kind: k, S: "a"}
	}
}

// Plus returns v shifted by delta in the kind-appropriate unit: integer
// count for KindInteger/KindNumeric, days for KindDate, and successive
// letters (wrapping a->b->...->z->aa) for KindText.
func (v Value) Plus(delta int64) Value {
	switch v.Kind {
	case KindInteger:
		return Value{Kind: v.Kind, I: v.I + delta}
	case KindNumeric:
		return Value{Kind: v.Kind, N: v.N.Add(decimal.NewFromInt(delta))}
	case KindDate:
		return Value{Kind: v.Kind, D: v.D.AddDate(0, 0, int(delta))}
	default:
		return Value{Kind: v.Kind, S: shiftText(v.S, delta)}
	}
}

func shiftText(s string, delta int64) string {
	if s == "" {
		if delta <= 0 {
			return "a"
		}
		return shiftText("a", delta-1)
	}
	r := []rune(s)
	last := len(r) - 1
	c := r[last]
	for i := int64(0); i < delta; i++ {
		if c == 'z' {
			c = 'a'
			r = append(r[:last], 'a', 'a')
			last = len(r) - 1
		} else {
			c++
		}
	}
	r[last] = c
	return string(r)
}

// Literal renders v as a SQL literal suitable for direct interpolation into
// generated DML. Values originate from the extractor itself, never from
// unsanitized external input, so string interpolation (matching the
// teacher's embedded-SQL-template idiom) is safe here.
func (v Value) Literal() string {
	switch v.Kind {
	case KindInteger:
		return fmt.Sprintf("%d", v.I)
	case KindNumeric:
		return v.N.String()
	case KindDate:
		return "'" + v.D.Format(dateLayout) + "'::date"
	default:
		return "'" + escapeText(v.S) + "'"
	}
}

func escapeText(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' {
			out = append(out, '\'')
		}
		out = append(out, r)
	}
	return string(out)
}

// Less reports whether v sorts strictly before other. Both must share a Kind.
func (v Value) Less(other Value) bool {
	switch v.Kind {
	case KindInteger:
		return v.I < other.I
	case KindNumeric:
		return v.N.LessThan(other.N)
	case KindDate:
		return v.D.Before(other.D)
	default:
		return v.S < other.S
	}
}

// Equal reports whether v and other hold the same value.
func (v Value) Equal(other Value) bool {
	switch v.Kind {
	case KindInteger:
		return v.I == other.I
	case KindNumeric:
		return v.N.Equal(other.N)
	case KindDate:
		return v.D.Equal(other.D)
	default:
		return v.S == other.S
	}
}
