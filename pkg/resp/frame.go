// Package resp implements the wire frame model for a RESP3-compatible
// protocol: a tagged union of request/response values together with their
// encode and decode contracts.
//
// The ten frame kinds mirror the Redis RESP3 spec
// (https://redis.io/docs/reference/protocol-spec/): SimpleString, SimpleError,
// Integer, BulkString, Array, Null, Boolean, Double, Map and Set. Arrays,
// Maps and Sets nest arbitrarily deep; BulkString and Array additionally
// carry a distinguished null ("$-1\r\n", "*-1\r\n") separate from the
// explicit RESP3 Null singleton ("_\r\n").
//
// Decode is the central algorithm of this package. It is incremental: given
// a buffer that does not yet hold a complete frame, it returns ErrIncomplete
// and leaves the caller's buffer untouched, so a streaming reader (see the
// codec type in this package) can retry once more bytes arrive. Encode is a
// total function: every Frame value has exactly one wire form.
package resp

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies a frame's wire variant. The underlying byte is the RESP
// type-marker character that prefixes the frame on the wire.
type Kind byte

// Frame kind constants, one per RESP3 wire marker.
const (
	SimpleString Kind = '+'
	Error        Kind = '-'
	Integer      Kind = ':'
	BulkString   Kind = '$'
	Array        Kind = '*'
	Null         Kind = '_'
	Boolean      Kind = '#'
	Double       Kind = ','
	Map          Kind = '%'
	Set          Kind = '~'
)

// Frame is a tagged union over the RESP3 wire kinds. Only the fields
// relevant to Kind are meaningful; it is a value type with no identity.
// Copying a Frame copies its value semantics (slices/maps are shared like
// any other Go value, but callers treat a Frame as owned once received).
type Frame struct {
	Kind Kind

	Str string // SimpleString, Error payload

	Int int64 // Integer payload

	Bulk     []byte // BulkString payload
	BulkNull bool   // true for the null bulk string ($-1\r\n)

	Array     []Frame // Array children
	ArrayNull bool    // true for the null array (*-1\r\n)

	Bool bool // Boolean payload

	Double float64 // Double payload

	Map map[string]Frame // Map entries; encoded in sorted key order

	Set []Frame // Set members; order-preserving on the wire
}

// Constructors. Each returns a fully formed Frame of the named kind.

func NewSimpleString(s string) Frame { return Frame{Kind: SimpleString, Str: s} }
func NewError(s string) Frame        { return Frame{Kind: Error, Str: s} }
func NewInteger(n int64) Frame       { return Frame{Kind: Integer, Int: n} }
func NewBulkString(b []byte) Frame   { return Frame{Kind: BulkString, Bulk: b} }
func NewNullBulkString() Frame       { return Frame{Kind: BulkString, BulkNull: true} }
func NewArray(items []Frame) Frame   { return Frame{Kind: Array, Array: items} }
func NewNullArray() Frame            { return Frame{Kind: Array, ArrayNull: true} }
func NewNull() Frame                 { return Frame{Kind: Null} }
func NewBoolean(b bool) Frame        { return Frame{Kind: Boolean, Bool: b} }
func NewDouble(f float64) Frame      { return Frame{Kind: Double, Double: f} }
func NewMap(m map[string]Frame) Frame {
	return Frame{Kind: Map, Map: m}
}
func NewSet(items []Frame) Frame { return Frame{Kind: Set, Set: items} }

// IsNull reports whether f is any of the three distinct wire-level nulls:
// the null bulk string, the null array, or the RESP3 Null singleton.
func (f Frame) IsNull() bool {
	return (f.Kind == BulkString && f.BulkNull) ||
		(f.Kind == Array && f.ArrayNull) ||
		f.Kind == Null
}

// Encode renders f to its bit-exact wire form. Encode never fails: every
// Frame value has exactly one valid wire representation.
func Encode(f Frame) []byte {
	return appendFrame(nil, f)
}

func appendFrame(b []byte, f Frame) []byte {
	switch f.Kind {
	case SimpleString:
		return appendLine(b, '+', stripCRLF(f.Str))
	case Error:
		return appendLine(b, '-', stripCRLF(f.Str))
	case Integer:
		return appendInteger(b, f.Int)
	case BulkString:
		if f.BulkNull {
			return append(b, '$', '-', '1', '\r', '\n')
		}
		return appendBulk(b, f.Bulk)
	case Array:
		if f.ArrayNull {
			return append(b, '*', '-', '1', '\r', '\n')
		}
		b = appendHeader(b, '*', len(f.Array))
		for _, child := range f.Array {
			b = appendFrame(b, child)
		}
		return b
	case Null:
		return append(b, '_', '\r', '\n')
	case Boolean:
		if f.Bool {
			return append(b, '#', 't', '\r', '\n')
		}
		return append(b, '#', 'f', '\r', '\n')
	case Double:
		return appendDouble(b, f.Double)
	case Map:
		keys := make([]string, 0, len(f.Map))
		for k := range f.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b = appendHeader(b, '%', len(keys))
		for _, k := range keys {
			b = appendLine(b, '+', stripCRLF(k))
			b = appendFrame(b, f.Map[k])
		}
		return b
	case Set:
		b = appendHeader(b, '~', len(f.Set))
		for _, member := range f.Set {
			b = appendFrame(b, member)
		}
		return b
	default:
		// unreachable for a Frame produced by this package's constructors
		return b
	}
}

func appendLine(b []byte, prefix byte, s string) []byte {
	b = append(b, prefix)
	b = append(b, s...)
	return append(b, '\r', '\n')
}

func appendHeader(b []byte, prefix byte, n int) []byte {
	b = append(b, prefix)
	b = strconv.AppendInt(b, int64(n), 10)
	return append(b, '\r', '\n')
}

func appendInteger(b []byte, n int64) []byte {
	b = append(b, ':')
	if n >= 0 {
		b = append(b, '+')
	}
	b = strconv.AppendInt(b, n, 10)
	return append(b, '\r', '\n')
}

func appendBulk(b []byte, data []byte) []byte {
	b = appendHeader(b, '$', len(data))
	b = append(b, data...)
	return append(b, '\r', '\n')
}

// appendDouble renders f in the canonical RESP3 double form: fixed notation
// with a visible decimal point when |f| > 1e-6, scientific notation
// (shortest mantissa, unpadded exponent) otherwise.
func appendDouble(b []byte, f float64) []byte {
	b = append(b, ',')
	if math.Abs(f) > 1e-6 {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.ContainsRune(s, '.') {
			s += ".0"
		}
		b = append(b, s...)
	} else {
		b = append(b, formatScientific(f)...)
	}
	return append(b, '\r', '\n')
}

// formatScientific mirrors Rust's "{:e}" formatting: shortest mantissa, no
// zero-padded or plus-signed exponent (e.g. "1e-7", "-2.3e-8").
func formatScientific(f float64) string {
	s := strconv.FormatFloat(f, 'e', -1, 64)
	idx := strings.IndexByte(s, 'e')
	if idx < 0 {
		return s // NaN has no exponent
	}
	mantissa := s[:idx]
	exp := s[idx+1:]
	sign := ""
	if len(exp) > 0 && exp[0] == '-' {
		sign = "-"
		exp = exp[1:]
	} else if len(exp) > 0 && exp[0] == '+' {
		exp = exp[1:]
	}
	exp = strings.TrimLeft(exp, "0")
	if exp == "" {
		exp = "0"
	}
	return mantissa + "e" + sign + exp
}

func stripCRLF(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
