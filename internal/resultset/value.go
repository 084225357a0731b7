// Package resultset stores the rows of executed statements in memory or in
// spill files and serves windowed reads over them.
package resultset

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NullDisplay is the display value of a NULL cell.
const NullDisplay = "NULL"

// Kind discriminates the cell variants. The numeric values are part of the
// spill file format.
type Kind uint8

// Cell kinds.
const (
	KindNull Kind = iota
	KindText
	KindInteger
	KindReal
	KindBoolean
	KindBinary
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindBoolean:
		return "boolean"
	case KindBinary:
		return "binary"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Value is one stored cell. Only the field matching Kind is meaningful;
// Opaque values keep the driver's text rendering in Str.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Str   string
	Bytes []byte
}

// Null returns a NULL cell.
func Null() Value { return Value{Kind: KindNull} }

// Text returns a text cell.
func Text(s string) Value { return Value{Kind: KindText, Str: s} }

// Integer returns an integer cell.
func Integer(i int64) Value { return Value{Kind: KindInteger, Int: i} }

// Real returns a floating point cell.
func Real(f float64) Value { return Value{Kind: KindReal, Float: f} }

// Boolean returns a boolean cell.
func Boolean(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// Binary returns a byte string cell.
func Binary(b []byte) Value { return Value{Kind: KindBinary, Bytes: b} }

// Opaque returns a cell for a driver type without a dedicated kind.
func Opaque(s string) Value { return Value{Kind: KindOpaque, Str: s} }

// IsNull reports whether the cell is NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Display renders the cell the way clients show it.
func (v Value) Display() string {
	switch v.Kind {
	case KindNull:
		return NullDisplay
	case KindText, KindOpaque:
		return v.Str
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindReal:
		return formatReal(v.Float)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindBinary:
		return `\x` + hex.EncodeToString(v.Bytes)
	default:
		return ""
	}
}

// JSON returns the value as it should appear in a JSON document. Reals that
// JSON cannot represent are rendered as strings.
func (v Value) JSON() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInteger:
		return v.Int
	case KindReal:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return formatReal(v.Float)
		}
		return v.Float
	case KindBoolean:
		return v.Bool
	default:
		return v.Display()
	}
}

func formatReal(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// timestampLayout matches the way PostgreSQL prints timestamptz values.
const timestampLayout = "2006-01-02 15:04:05.999999999Z07:00"

// FromDriver converts a value returned by a database driver into a cell.
func FromDriver(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case string:
		return Text(x)
	case []byte:
		return Binary(append([]byte(nil), x...))
	case bool:
		return Boolean(x)
	case int:
		return Integer(int64(x))
	case int8:
		return Integer(int64(x))
	case int16:
		return Integer(int64(x))
	case int32:
		return Integer(int64(x))
	case int64:
		return Integer(x)
	case uint8:
		return Integer(int64(x))
	case uint16:
		return Integer(int64(x))
	case uint32:
		return Integer(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return Opaque(strconv.FormatUint(x, 10))
		}
		return Integer(int64(x))
	case float32:
		return Real(float64(x))
	case float64:
		return Real(x)
	case time.Time:
		return Opaque(x.Format(timestampLayout))
	case [16]byte:
		return Opaque(uuid.UUID(x).String())
	case uuid.UUID:
		return Opaque(x.String())
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return Opaque(fmt.Sprint(v))
		}
		if _, again := dv.(driver.Valuer); again {
			return Opaque(fmt.Sprint(dv))
		}
		return FromDriver(dv)
	case fmt.Stringer:
		return Opaque(x.String())
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return Opaque(fmt.Sprint(x))
		}
		return Opaque(string(b))
	default:
		return Opaque(fmt.Sprint(v))
	}
}
