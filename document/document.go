package document

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// IDField is the name of the primary key field.
const IDField = "_id"

// Field is a single name/value pair of a Document.
type Field struct {
	Name  string
	Value Value
}

// Document is an ordered set of named values.
//
// Field order is preserved across encoding. A Document is not safe for
// concurrent mutation.
type Document struct {
	fields []Field
}

// New creates a document from the given fields. Later duplicates overwrite
// earlier ones.
func New(fields ...Field) *Document {
	d := &Document{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		d.Set(f.Name, f.Value)
	}
	return d
}

// F is shorthand for building a Field from a Go value. It panics on
// unsupported types.
func F(name string, v any) Field {
	return Field{Name: name, Value: MustFromAny(v)}
}

// FromMap converts a map[string]any into a Document. Keys are sorted to make
// the field order deterministic.
func FromMap(m map[string]any) (*Document, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := &Document{fields: make([]Field, 0, len(m))}
	for _, k := range keys {
		v, err := FromAny(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		d.fields = append(d.fields, Field{Name: k, Value: v})
	}
	return d, nil
}

// Len returns the number of fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Fields returns a copy of the field list in order.
func (d *Document) Fields() []Field {
	if d == nil {
		return nil
	}
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Keys returns the field names in order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.fields))
	for i := range d.fields {
		keys[i] = d.fields[i].Name
	}
	return keys
}

// Get returns the value of a top-level field.
func (d *Document) Get(name string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	for i := range d.fields {
		if d.fields[i].Name == name {
			return d.fields[i].Value, true
		}
	}
	return Value{}, false
}

// Set assigns a top-level field, keeping its position if it already exists.
func (d *Document) Set(name string, v Value) *Document {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields[i].Value = v
			return d
		}
	}
	d.fields = append(d.fields, Field{Name: name, Value: v})
	return d
}

// SetFirst assigns a field and moves it to the front of the document.
func (d *Document) SetFirst(name string, v Value) *Document {
	d.Delete(name)
	d.fields = append(d.fields, Field{})
	copy(d.fields[1:], d.fields)
	d.fields[0] = Field{Name: name, Value: v}
	return d
}

// Delete removes a top-level field and reports whether it existed.
func (d *Document) Delete(name string) bool {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields = append(d.fields[:i], d.fields[i+1:]...)
			return true
		}
	}
	return false
}

// ID returns the primary key value. Missing and Null ids both report false.
func (d *Document) ID() (Value, bool) {
	v, ok := d.Get(IDField)
	if !ok || v.IsNull() {
		return Value{}, false
	}
	return v, true
}

// Lookup resolves a dotted path such as "address.city" or "tags.0".
// A missing path yields Null and false.
func (d *Document) Lookup(path string) (Value, bool) {
	if d == nil || path == "" {
		return Value{}, false
	}

	head, rest, nested := strings.Cut(path, ".")
	v, ok := d.Get(head)
	if !ok {
		return Value{}, false
	}

	for nested {
		head, rest, nested = strings.Cut(rest, ".")
		switch v.Kind() {
		case KindDocument:
			v, ok = v.doc.Get(head)
		case KindArray:
			idx, err := strconv.Atoi(head)
			if err != nil || idx < 0 || idx >= len(v.arr) {
				return Value{}, false
			}
			v, ok = v.arr[idx], true
		default:
			return Value{}, false
		}
		if !ok {
			return Value{}, false
		}
	}
	return v, true
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{fields: make([]Field, len(d.fields))}
	for i := range d.fields {
		out.fields[i] = Field{Name: d.fields[i].Name, Value: d.fields[i].Value.Clone()}
	}
	return out
}

// Equal reports whether both documents have the same fields in the same
// order with equal values.
func (d *Document) Equal(other *Document) bool {
	return compareDocuments(d, other) == 0
}

// String renders the document in a JSON-like notation.
func (d *Document) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range d.Fields() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Quote(f.Name))
		sb.WriteString(": ")
		sb.WriteString(f.Value.String())
	}
	sb.WriteByte('}')
	return sb.String()
}
