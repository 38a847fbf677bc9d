package literal

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers follow the flyteidl core literal messages.
const (
	fieldLiteralScalar     protowire.Number = 1
	fieldLiteralCollection protowire.Number = 2
	fieldLiteralMap        protowire.Number = 3

	fieldScalarPrimitive protowire.Number = 1

	fieldPrimitiveInteger  protowire.Number = 1
	fieldPrimitiveFloat    protowire.Number = 2
	fieldPrimitiveString   protowire.Number = 3
	fieldPrimitiveBoolean  protowire.Number = 4
	fieldPrimitiveDatetime protowire.Number = 5
	fieldPrimitiveDuration protowire.Number = 6

	fieldLiterals protowire.Number = 1

	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2

	fieldSeconds protowire.Number = 1
	fieldNanos   protowire.Number = 2
)

var ErrNilLiteral = errors.New("literal: nil value")

func MarshalMap(m Map) ([]byte, error) {
	return appendMap(nil, m)
}

func UnmarshalMap(b []byte) (Map, error) {
	return consumeMap(b)
}

func MarshalCollection(c Collection) ([]byte, error) {
	return appendCollection(nil, c)
}

func UnmarshalCollection(b []byte) (Collection, error) {
	return consumeCollection(b)
}

func ReadMapFile(path string) (Map, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := UnmarshalMap(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return m, nil
}

func WriteMapFile(path string, m Map) error {
	b, err := MarshalMap(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func ReadCollectionFile(path string) (Collection, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := UnmarshalCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return c, nil
}

func WriteCollectionFile(path string, c Collection) error {
	b, err := MarshalCollection(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendMap(b []byte, m Map) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		value, err := appendLiteral(nil, m[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		entry := protowire.AppendTag(nil, fieldEntryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = appendMessage(entry, fieldEntryValue, value)
		b = appendMessage(b, fieldLiterals, entry)
	}
	return b, nil
}

func appendCollection(b []byte, c Collection) ([]byte, error) {
	for i, l := range c {
		value, err := appendLiteral(nil, l)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		b = appendMessage(b, fieldLiterals, value)
	}
	return b, nil
}

func appendLiteral(b []byte, l Literal) ([]byte, error) {
	switch v := l.(type) {
	case nil:
		return nil, ErrNilLiteral
	case Collection:
		body, err := appendCollection(nil, v)
		if err != nil {
			return nil, err
		}
		return appendMessage(b, fieldLiteralCollection, body), nil
	case Map:
		body, err := appendMap(nil, v)
		if err != nil {
			return nil, err
		}
		return appendMessage(b, fieldLiteralMap, body), nil
	default:
		prim, err := appendPrimitive(nil, v)
		if err != nil {
			return nil, err
		}
		scalar := appendMessage(nil, fieldScalarPrimitive, prim)
		return appendMessage(b, fieldLiteralScalar, scalar), nil
	}
}

func appendPrimitive(b []byte, l Literal) ([]byte, error) {
	switch v := l.(type) {
	case Integer:
		b = protowire.AppendTag(b, fieldPrimitiveInteger, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case Float:
		b = protowire.AppendTag(b, fieldPrimitiveFloat, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(float64(v))), nil
	case String:
		b = protowire.AppendTag(b, fieldPrimitiveString, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	case Boolean:
		b = protowire.AppendTag(b, fieldPrimitiveBoolean, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeBool(bool(v))), nil
	case Datetime:
		t := v.Time().UTC()
		return appendMessage(b, fieldPrimitiveDatetime, appendSecondsNanos(nil, t.Unix(), int32(t.Nanosecond()))), nil
	case Duration:
		d := time.Duration(v)
		return appendMessage(b, fieldPrimitiveDuration, appendSecondsNanos(nil, int64(d/time.Second), int32(d%time.Second))), nil
	default:
		return nil, fmt.Errorf("literal: unsupported type %T", l)
	}
}

func appendSecondsNanos(b []byte, seconds int64, nanos int32) []byte {
	if seconds != 0 {
		b = protowire.AppendTag(b, fieldSeconds, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(seconds))
	}
	if nanos != 0 {
		b = protowire.AppendTag(b, fieldNanos, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(nanos)))
	}
	return b
}

// walk calls fn for every field in b. fn returns the number of bytes it
// consumed, or -1 to have the field skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("literal: field %d: unexpected wire type %d", num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("literal: field %d: unexpected wire type %d", num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeMap(b []byte) (Map, error) {
	out := Map{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldLiterals {
			return -1, nil
		}
		entry, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		key, value, err := consumeEntry(entry)
		if err != nil {
			return 0, err
		}
		out[key] = value
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func consumeEntry(b []byte) (string, Literal, error) {
	var (
		key   string
		value Literal
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldEntryKey:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			key = string(v)
			return n, nil
		case fieldEntryValue:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			lit, err := consumeLiteral(v)
			if err != nil {
				return 0, err
			}
			value = lit
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return "", nil, err
	}
	if value == nil {
		return "", nil, fmt.Errorf("literal: map entry %q has no value", key)
	}
	return key, value, nil
}

func consumeCollection(b []byte) (Collection, error) {
	out := Collection{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldLiterals {
			return -1, nil
		}
		v, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		lit, err := consumeLiteral(v)
		if err != nil {
			return 0, fmt.Errorf("index %d: %w", len(out), err)
		}
		out = append(out, lit)
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func consumeLiteral(b []byte) (Literal, error) {
	var out Literal
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldLiteralScalar:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			lit, err := consumeScalar(v)
			if err != nil {
				return 0, err
			}
			out = lit
			return n, nil
		case fieldLiteralCollection:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			lit, err := consumeCollection(v)
			if err != nil {
				return 0, err
			}
			out = lit
			return n, nil
		case fieldLiteralMap:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			lit, err := consumeMap(v)
			if err != nil {
				return 0, err
			}
			out = lit
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("literal: unsupported or empty literal")
	}
	return out, nil
}

func consumeScalar(b []byte) (Literal, error) {
	var out Literal
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldScalarPrimitive {
			return -1, nil
		}
		v, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		lit, err := consumePrimitive(v)
		if err != nil {
			return 0, err
		}
		out = lit
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("literal: unsupported scalar")
	}
	return out, nil
}

func consumePrimitive(b []byte) (Literal, error) {
	var out Literal
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldPrimitiveInteger:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			out = Integer(int64(v))
			return n, nil
		case fieldPrimitiveFloat:
			if typ != protowire.Fixed64Type {
				return 0, fmt.Errorf("literal: field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			out = Float(math.Float64frombits(v))
			return n, nil
		case fieldPrimitiveString:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			out = String(v)
			return n, nil
		case fieldPrimitiveBoolean:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			out = Boolean(protowire.DecodeBool(v))
			return n, nil
		case fieldPrimitiveDatetime:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			sec, nanos, err := consumeSecondsNanos(v)
			if err != nil {
				return 0, err
			}
			out = Datetime(time.Unix(sec, int64(nanos)).UTC())
			return n, nil
		case fieldPrimitiveDuration:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			sec, nanos, err := consumeSecondsNanos(v)
			if err != nil {
				return 0, err
			}
			out = Duration(time.Duration(sec)*time.Second + time.Duration(nanos))
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("literal: unsupported primitive")
	}
	return out, nil
}

func consumeSecondsNanos(b []byte) (int64, int32, error) {
	var (
		seconds int64
		nanos   int32
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldSeconds:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			seconds = int64(v)
			return n, nil
		case fieldNanos:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			nanos = int32(int64(v))
			return n, nil
		}
		return -1, nil
	})
	return seconds, nanos, err
}
