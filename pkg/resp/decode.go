package resp

import (
	"strconv"
)

// Decode reads a single frame from the head of buf.
//
// On success it returns the frame and the number of bytes consumed. If buf
// does not yet hold a complete frame it returns ErrIncomplete and n == 0;
// buf itself is never mutated, so the caller may simply wait for more bytes
// and call Decode again with a longer buffer. Any other error is a
// *ProtocolError and is not recoverable: the connection that produced buf
// should be closed.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, ErrIncomplete
	}
	switch Kind(buf[0]) {
	case SimpleString:
		return decodeSimple(buf, SimpleString)
	case Error:
		return decodeSimple(buf, Error)
	case Integer:
		return decodeInteger(buf)
	case BulkString:
		return decodeBulkString(buf)
	case Array:
		return decodeAggregate(buf, Array)
	case Null:
		return decodeNull(buf)
	case Boolean:
		return decodeBoolean(buf)
	case Double:
		return decodeDouble(buf)
	case Map:
		return decodeMap(buf)
	case Set:
		return decodeAggregate(buf, Set)
	default:
		return Frame{}, 0, errUnsupportedPrefix(buf[0])
	}
}

// findCRLF returns the index of the '\r' in buf[1:] that begins the first
// "\r\n" sequence, searching from offset 1 (past the type-marker byte), or
// -1 if no CRLF is present yet.
func findCRLF(buf []byte) int {
	for i := 1; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// containsCROrLF reports whether b holds a bare CR or LF byte.
func containsCROrLF(b []byte) bool {
	for _, c := range b {
		if c == '\r' || c == '\n' {
			return true
		}
	}
	return false
}

func decodeSimple(buf []byte, kind Kind) (Frame, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Frame{}, 0, ErrIncomplete
	}
	payload := buf[1:idx]
	if containsCROrLF(payload) {
		return Frame{}, 0, errInvalid("simple string payload contains CR or LF")
	}
	return Frame{Kind: kind, Str: string(payload)}, idx + 2, nil
}

func decodeInteger(buf []byte) (Frame, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Frame{}, 0, ErrIncomplete
	}
	data := buf[1:idx]
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return Frame{}, 0, errParse("integer", string(data))
	}
	return Frame{Kind: Integer, Int: n}, idx + 2, nil
}

func decodeBoolean(buf []byte) (Frame, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Frame{}, 0, ErrIncomplete
	}
	payload := buf[1:idx]
	if len(payload) != 1 || (payload[0] != 't' && payload[0] != 'f') {
		return Frame{}, 0, errInvalid("invalid boolean payload")
	}
	return Frame{Kind: Boolean, Bool: payload[0] == 't'}, idx + 2, nil
}

func decodeDouble(buf []byte) (Frame, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Frame{}, 0, ErrIncomplete
	}
	payload := buf[1:idx]
	f, err := strconv.ParseFloat(string(payload), 64)
	if err != nil {
		return Frame{}, 0, errParse("double", string(payload))
	}
	return Frame{Kind: Double, Double: f}, idx + 2, nil
}

func decodeNull(buf []byte) (Frame, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Frame{}, 0, ErrIncomplete
	}
	if idx != 1 {
		return Frame{}, 0, errInvalid("null frame must carry no payload")
	}
	return Frame{Kind: Null}, idx + 2, nil
}

// decodeBulkString implements §4.A step 3: the declared length governs
// slicing (so embedded CR/LF bytes inside the payload are binary-safe), but
// if the bytes immediately following the declared length aren't a CRLF, the
// real terminator is located by scanning so the mismatch can be reported as
// NotEqualLength{expected, decoded} rather than a generic framing error.
func decodeBulkString(buf []byte) (Frame, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Frame{}, 0, ErrIncomplete
	}
	length, err := strconv.Atoi(string(buf[1:idx]))
	if err != nil {
		return Frame{}, 0, errInvalid("invalid bulk string length")
	}
	start := idx + 2
	if length == -1 {
		return Frame{Kind: BulkString, BulkNull: true}, start, nil
	}
	if length < 0 {
		return Frame{}, 0, errInvalid("invalid bulk string length")
	}

	need := start + length + 2
	if len(buf) < need {
		return Frame{}, 0, ErrIncomplete
	}

	if buf[start+length] == '\r' && buf[start+length+1] == '\n' {
		payload := make([]byte, length)
		copy(payload, buf[start:start+length])
		return Frame{Kind: BulkString, Bulk: payload}, need, nil
	}

	contentEnd := findContentCRLF(buf[start:])
	if contentEnd < 0 {
		return Frame{}, 0, ErrIncomplete
	}
	return Frame{}, 0, errNotEqualLength(length, contentEnd)
}

// findContentCRLF returns the offset of the first "\r\n" in b, or -1.
func findContentCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func decodeAggregate(buf []byte, kind Kind) (Frame, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Frame{}, 0, ErrIncomplete
	}
	n, err := strconv.Atoi(string(buf[1:idx]))
	if err != nil {
		return Frame{}, 0, errInvalid("invalid element count")
	}
	pos := idx + 2
	if kind == Array && n == -1 {
		return Frame{Kind: Array, ArrayNull: true}, pos, nil
	}
	if n < 0 {
		return Frame{}, 0, errInvalid("invalid element count")
	}

	var items []Frame
	if n > 0 {
		items = make([]Frame, 0, n)
	}
	for i := 0; i < n; i++ {
		child, consumed, err := Decode(buf[pos:])
		if err != nil {
			if err == ErrIncomplete {
				return Frame{}, 0, ErrIncomplete
			}
			return Frame{}, 0, err
		}
		items = append(items, child)
		pos += consumed
	}

	if kind == Set {
		return Frame{Kind: Set, Set: items}, pos, nil
	}
	return Frame{Kind: Array, Array: items}, pos, nil
}

func decodeMap(buf []byte) (Frame, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Frame{}, 0, ErrIncomplete
	}
	n, err := strconv.Atoi(string(buf[1:idx]))
	if err != nil || n < 0 {
		return Frame{}, 0, errInvalid("invalid entry count")
	}
	pos := idx + 2

	m := make(map[string]Frame, n)
	for i := 0; i < n; i++ {
		key, consumed, err := Decode(buf[pos:])
		if err != nil {
			if err == ErrIncomplete {
				return Frame{}, 0, ErrIncomplete
			}
			return Frame{}, 0, err
		}
		if key.Kind != SimpleString {
			return Frame{}, 0, errInvalid("map key must be a simple string")
		}
		pos += consumed

		value, consumed, err := Decode(buf[pos:])
		if err != nil {
			if err == ErrIncomplete {
				return Frame{}, 0, ErrIncomplete
			}
			return Frame{}, 0, err
		}
		m[key.Str] = value
		pos += consumed
	}

	return Frame{Kind: Map, Map: m}, pos, nil
}
