package document

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindNull represents a null value. It is the zero Kind.
	KindNull Kind = iota
	// KindMinValue is a sentinel that sorts before every other value.
	KindMinValue
	// KindInt32 represents a 32-bit integer.
	KindInt32
	// KindInt64 represents a 64-bit integer.
	KindInt64
	// KindDouble represents a 64-bit float.
	KindDouble
	// KindString represents a UTF-8 string.
	KindString
	// KindDocument represents an embedded document.
	KindDocument
	// KindArray represents an ordered list of values.
	KindArray
	// KindBinary represents raw bytes.
	KindBinary
	// KindObjectID represents a 12-byte object identifier.
	KindObjectID
	// KindGUID represents a 16-byte UUID.
	KindGUID
	// KindBoolean represents true or false.
	KindBoolean
	// KindDateTime represents a UTC instant with millisecond precision.
	KindDateTime
	// KindMaxValue is a sentinel that sorts after every other value.
	KindMaxValue
)

var kindNames = [...]string{
	KindNull:     "null",
	KindMinValue: "minValue",
	KindInt32:    "int32",
	KindInt64:    "int64",
	KindDouble:   "double",
	KindString:   "string",
	KindDocument: "document",
	KindArray:    "array",
	KindBinary:   "binary",
	KindObjectID: "objectId",
	KindGUID:     "guid",
	KindBoolean:  "boolean",
	KindDateTime: "dateTime",
	KindMaxValue: "maxValue",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// IsNumber reports whether k is one of the numeric kinds.
func (k Kind) IsNumber() bool {
	return k == KindInt32 || k == KindInt64 || k == KindDouble
}

// Value is an immutable typed document value.
//
// The zero Value is Null.
type Value struct {
	kind Kind
	i64  int64
	f64  float64
	str  string
	raw  []byte // binary payload, objectId (12 bytes) or guid (16 bytes)
	doc  *Document
	arr  []Value
	t    time.Time
}

// Null returns a null Value.
func Null() Value { return Value{} }

// MinValue returns the lowest sortable sentinel.
func MinValue() Value { return Value{kind: KindMinValue} }

// MaxValue returns the highest sortable sentinel.
func MaxValue() Value { return Value{kind: KindMaxValue} }

// Int32 returns an int32 Value.
func Int32(v int32) Value { return Value{kind: KindInt32, i64: int64(v)} }

// Int64 returns an int64 Value.
func Int64(v int64) Value { return Value{kind: KindInt64, i64: v} }

// Double returns a float64 Value.
func Double(v float64) Value { return Value{kind: KindDouble, f64: v} }

// String returns a string Value.
func String(v string) Value { return Value{kind: KindString, str: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBoolean, i64: 1}
	}
	return Value{kind: KindBoolean}
}

// Binary returns a binary Value. The bytes are copied.
func Binary(b []byte) Value {
	return Value{kind: KindBinary, raw: append([]byte(nil), b...)}
}

// ObjectID returns an object identifier Value.
func ObjectID(id [12]byte) Value {
	return Value{kind: KindObjectID, raw: append([]byte(nil), id[:]...)}
}

// GUID returns a UUID Value.
func GUID(id [16]byte) Value {
	return Value{kind: KindGUID, raw: append([]byte(nil), id[:]...)}
}

// DateTime returns a date-time Value truncated to milliseconds in UTC.
func DateTime(t time.Time) Value {
	return Value{kind: KindDateTime, t: t.UTC().Truncate(time.Millisecond)}
}

// Doc returns an embedded document Value. A nil document is stored as empty.
func Doc(d *Document) Value {
	if d == nil {
		d = New()
	}
	return Value{kind: KindDocument, doc: d}
}

// Array returns an array Value.
func Array(values ...Value) Value {
	return Value{kind: KindArray, arr: values}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsSentinel reports whether v is MinValue or MaxValue.
func (v Value) IsSentinel() bool { return v.kind == KindMinValue || v.kind == KindMaxValue }

// AsInt32 returns the int32 value if Kind is KindInt32.
func (v Value) AsInt32() (int32, bool) {
	if v.kind != KindInt32 {
		return 0, false
	}
	return int32(v.i64), true
}

// AsInt64 returns the integer value if Kind is KindInt32 or KindInt64.
func (v Value) AsInt64() (int64, bool) {
	if v.kind != KindInt32 && v.kind != KindInt64 {
		return 0, false
	}
	return v.i64, true
}

// AsDouble returns any numeric value widened to float64.
func (v Value) AsDouble() (float64, bool) {
	switch v.kind {
	case KindDouble:
		return v.f64, true
	case KindInt32, KindInt64:
		return float64(v.i64), true
	default:
		return 0, false
	}
}

// AsString returns the string value if Kind is KindString.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsBool returns the boolean value if Kind is KindBoolean.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBoolean {
		return false, false
	}
	return v.i64 == 1, true
}

// AsBinary returns the bytes of a binary Value. The slice must not be modified.
func (v Value) AsBinary() ([]byte, bool) {
	if v.kind != KindBinary {
		return nil, false
	}
	return v.raw, true
}

// AsObjectID returns the identifier of an objectId Value.
func (v Value) AsObjectID() ([12]byte, bool) {
	var id [12]byte
	if v.kind != KindObjectID {
		return id, false
	}
	copy(id[:], v.raw)
	return id, true
}

// AsGUID returns the identifier of a guid Value.
func (v Value) AsGUID() ([16]byte, bool) {
	var id [16]byte
	if v.kind != KindGUID {
		return id, false
	}
	copy(id[:], v.raw)
	return id, true
}

// AsDateTime returns the instant of a dateTime Value.
func (v Value) AsDateTime() (time.Time, bool) {
	if v.kind != KindDateTime {
		return time.Time{}, false
	}
	return v.t, true
}

// AsDocument returns the embedded document. The document must not be modified.
func (v Value) AsDocument() (*Document, bool) {
	if v.kind != KindDocument {
		return nil, false
	}
	return v.doc, true
}

// AsArray returns the array elements. The slice must not be modified.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBinary, KindObjectID, KindGUID:
		v.raw = append([]byte(nil), v.raw...)
	case KindDocument:
		v.doc = v.doc.Clone()
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i := range v.arr {
			arr[i] = v.arr[i].Clone()
		}
		v.arr = arr
	}
	return v
}

// Equal reports whether a and b hold the same value under Compare.
func (v Value) Equal(other Value) bool {
	return Compare(v, other) == 0
}

// String renders v for logs and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindMinValue:
		return "$minValue"
	case KindMaxValue:
		return "$maxValue"
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.i64, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f64, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindBoolean:
		return strconv.FormatBool(v.i64 == 1)
	case KindBinary:
		return "binary(" + hex.EncodeToString(v.raw) + ")"
	case KindObjectID:
		return "objectId(" + hex.EncodeToString(v.raw) + ")"
	case KindGUID:
		return "guid(" + hex.EncodeToString(v.raw) + ")"
	case KindDateTime:
		return v.t.Format(time.RFC3339Nano)
	case KindDocument:
		return v.doc.String()
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i := range v.arr {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(v.arr[i].String())
		}
		buf.WriteByte(']')
		return buf.String()
	default:
		return v.kind.String()
	}
}

// FromAny converts a Go value into a typed Value.
//
// This exists as an adapter layer for user input.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case *Document:
		return Doc(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case float64:
		return Double(x), nil
	case float32:
		return Double(float64(x)), nil
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return Int32(int32(x)), nil
		}
		return Int64(int64(x)), nil
	case int8:
		return Int32(int32(x)), nil
	case int16:
		return Int32(int32(x)), nil
	case int32:
		return Int32(x), nil
	case int64:
		return Int64(x), nil
	case uint8:
		return Int32(int32(x)), nil
	case uint16:
		return Int32(int32(x)), nil
	case uint32:
		return Int64(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			// Avoid silently truncating large values.
			return Value{}, fmt.Errorf("document uint64 out of range: %d", x)
		}
		return Int64(int64(x)), nil
	case []byte:
		return Binary(x), nil
	case time.Time:
		return DateTime(x), nil
	case []Value:
		return Array(x...), nil
	case []any:
		arr := make([]Value, len(x))
		for i := range x {
			vv, err := FromAny(x[i])
			if err != nil {
				return Value{}, err
			}
			arr[i] = vv
		}
		return Array(arr...), nil
	case map[string]any:
		d, err := FromMap(x)
		if err != nil {
			return Value{}, err
		}
		return Doc(d), nil
	default:
		return Value{}, fmt.Errorf("unsupported document value type %T", v)
	}
}

// MustFromAny is FromAny that panics on unsupported input. Intended for tests
// and literals.
func MustFromAny(v any) Value {
	val, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return val
}
