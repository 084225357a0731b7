package resultset

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValueDisplay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"null", Null(), NullDisplay},
		{"text", Text("hello"), "hello"},
		{"empty text", Text(""), ""},
		{"integer", Integer(-42), "-42"},
		{"real", Real(1.5), "1.5"},
		{"large real", Real(1e6), "1000000"},
		{"tiny real", Real(1e-7), "1e-07"},
		{"nan", Real(math.NaN()), "NaN"},
		{"inf", Real(math.Inf(-1)), "-Infinity"},
		{"bool", Boolean(true), "true"},
		{"binary", Binary([]byte{0xde, 0xad}), `\xdead`},
		{"opaque", Opaque("12.3400"), "12.3400"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.v.Display())
			assert.Equal(t, tc.name == "null", tc.v.IsNull())
		})
	}
}

type stringer struct{}

func (stringer) String() string { return "custom" }

func TestFromDriver(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null()},
		{"string", "abc", Text("abc")},
		{"bytes", []byte{1, 2}, Binary([]byte{1, 2})},
		{"bool", false, Boolean(false)},
		{"int32", int32(7), Integer(7)},
		{"int64", int64(-9), Integer(-9)},
		{"uint8", uint8(255), Integer(255)},
		{"uint64 overflow", uint64(math.MaxUint64), Opaque("18446744073709551615")},
		{"float32", float32(0.5), Real(0.5)},
		{"time", ts, Opaque("2024-03-01 12:30:00Z")},
		{"uuid array", [16]byte(id), Opaque(id.String())},
		{"uuid", id, Opaque(id.String())},
		{"json object", map[string]any{"a": 1.0}, Opaque(`{"a":1}`)},
		{"json array", []any{"x", true}, Opaque(`["x",true]`)},
		{"stringer", stringer{}, Opaque("custom")},
		{"fallback", struct{ A int }{3}, Opaque("{3}")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, FromDriver(tc.in))
		})
	}
}

func TestValueJSON(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Null().JSON())
	assert.Equal(t, int64(3), Integer(3).JSON())
	assert.InDelta(t, 2.5, Real(2.5).JSON(), 0)
	assert.Equal(t, "Infinity", Real(math.Inf(1)).JSON())
	assert.Equal(t, true, Boolean(true).JSON())
	assert.Equal(t, "x", Text("x").JSON())
	assert.Equal(t, `\x00`, Binary([]byte{0}).JSON())
}
