package resultset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Row layout in a spill file, all integers little endian:
//
//	uint32 cell count
//	per cell: kind byte, then
//	  integer, real    8 bytes
//	  boolean          1 byte
//	  text, binary,
//	  opaque           uint32 length + bytes
//	  null             nothing

var errCorruptRow = errors.New("corrupt spilled row")

// appendRow encodes row onto buf and returns the extended buffer.
func appendRow(buf []byte, row []Value) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(row)))
	for _, v := range row {
		buf = append(buf, byte(v.Kind))
		switch v.Kind {
		case KindNull:
		case KindInteger:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Int))
		case KindReal:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float))
		case KindBoolean:
			if v.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case KindText, KindOpaque:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Str)))
			buf = append(buf, v.Str...)
		case KindBinary:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.Bytes)))
			buf = append(buf, v.Bytes...)
		}
	}
	return buf
}

// decodeRow decodes a single row previously produced by appendRow. data must
// hold exactly one row.
func decodeRow(data []byte) ([]Value, error) {
	if len(data) < 4 {
		return nil, errCorruptRow
	}
	n := binary.LittleEndian.Uint32(data)
	pos := 4
	// Every cell needs at least its kind byte.
	if uint64(n) > uint64(len(data)-pos) {
		return nil, fmt.Errorf("%w: %d cells in %d bytes", errCorruptRow, n, len(data))
	}
	row := make([]Value, n)
	for i := range row {
		if pos >= len(data) {
			return nil, errCorruptRow
		}
		kind := Kind(data[pos])
		pos++
		switch kind {
		case KindNull:
			row[i] = Null()
		case KindInteger, KindReal:
			if len(data)-pos < 8 {
				return nil, errCorruptRow
			}
			bits := binary.LittleEndian.Uint64(data[pos:])
			pos += 8
			if kind == KindInteger {
				row[i] = Integer(int64(bits))
			} else {
				row[i] = Real(math.Float64frombits(bits))
			}
		case KindBoolean:
			if len(data)-pos < 1 {
				return nil, errCorruptRow
			}
			row[i] = Boolean(data[pos] != 0)
			pos++
		case KindText, KindOpaque, KindBinary:
			if len(data)-pos < 4 {
				return nil, errCorruptRow
			}
			size := int(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
			if size < 0 || len(data)-pos < size {
				return nil, errCorruptRow
			}
			payload := data[pos : pos+size]
			pos += size
			switch kind {
			case KindText:
				row[i] = Text(string(payload))
			case KindOpaque:
				row[i] = Opaque(string(payload))
			default:
				row[i] = Binary(append([]byte(nil), payload...))
			}
		default:
			return nil, fmt.Errorf("%w: unknown kind %d", errCorruptRow, kind)
		}
	}
	if pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", errCorruptRow, len(data)-pos)
	}
	return row, nil
}
