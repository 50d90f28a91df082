package codec

import (
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hupe1980/docstore/document"
)

// BSON binary subtypes.
const (
	bsonSubtypeGeneric = 0x00
	bsonSubtypeUUID    = 0x04
)

// ErrUnsupportedType is returned for BSON types that have no document kind.
var ErrUnsupportedType = errors.New("unsupported bson type")

// BSON encodes documents with go.mongodb.org/mongo-driver.
//
// *document.Document values are converted to an ordered bson.D so field order
// and value kinds survive a round trip. Any other value is passed to
// bson.Marshal unchanged, which lets plain structs with bson tags share the
// same codec.
type BSON struct{}

// Marshal encodes the value to BSON.
func (BSON) Marshal(v any) ([]byte, error) {
	switch x := v.(type) {
	case *document.Document:
		if x == nil {
			return nil, errors.New("bson: cannot marshal nil document")
		}
		d, err := ToBSON(x)
		if err != nil {
			return nil, err
		}
		return bson.Marshal(d)
	case document.Document:
		return BSON{}.Marshal(&x)
	default:
		return bson.Marshal(v)
	}
}

// Unmarshal decodes BSON data into v.
func (BSON) Unmarshal(data []byte, v any) error {
	out, ok := v.(*document.Document)
	if !ok {
		return bson.Unmarshal(data, v)
	}

	var d bson.D
	if err := bson.Unmarshal(data, &d); err != nil {
		return err
	}
	doc, err := FromBSON(d)
	if err != nil {
		return err
	}
	*out = *doc
	return nil
}

// Name returns the unique name of the codec ("bson").
func (BSON) Name() string { return "bson" }

// ToBSON converts a document into an ordered bson.D.
func ToBSON(doc *document.Document) (bson.D, error) {
	fields := doc.Fields()
	d := make(bson.D, 0, len(fields))
	for _, f := range fields {
		v, err := ValueToBSON(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		d = append(d, bson.E{Key: f.Name, Value: v})
	}
	return d, nil
}

// FromBSON converts a decoded bson.D into a document.
func FromBSON(d bson.D) (*document.Document, error) {
	doc := document.New()
	for _, e := range d {
		v, err := ValueFromBSON(e.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Key, err)
		}
		doc.Set(e.Key, v)
	}
	return doc, nil
}

// ValueToBSON converts a single value into its mongo-driver representation.
func ValueToBSON(v document.Value) (any, error) {
	switch v.Kind() {
	case document.KindNull:
		return nil, nil
	case document.KindMinValue:
		return primitive.MinKey{}, nil
	case document.KindMaxValue:
		return primitive.MaxKey{}, nil
	case document.KindInt32:
		i, _ := v.AsInt32()
		return i, nil
	case document.KindInt64:
		i, _ := v.AsInt64()
		return i, nil
	case document.KindDouble:
		f, _ := v.AsDouble()
		return f, nil
	case document.KindString:
		s, _ := v.AsString()
		return s, nil
	case document.KindBoolean:
		b, _ := v.AsBool()
		return b, nil
	case document.KindBinary:
		b, _ := v.AsBinary()
		return primitive.Binary{Subtype: bsonSubtypeGeneric, Data: b}, nil
	case document.KindObjectID:
		id, _ := v.AsObjectID()
		return primitive.ObjectID(id), nil
	case document.KindGUID:
		id, _ := v.AsGUID()
		return primitive.Binary{Subtype: bsonSubtypeUUID, Data: id[:]}, nil
	case document.KindDateTime:
		t, _ := v.AsDateTime()
		return primitive.NewDateTimeFromTime(t), nil
	case document.KindDocument:
		sub, _ := v.AsDocument()
		return ToBSON(sub)
	case document.KindArray:
		items, _ := v.AsArray()
		arr := make(bson.A, len(items))
		for i := range items {
			x, err := ValueToBSON(items[i])
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = x
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrUnsupportedType, v.Kind())
	}
}

// ValueFromBSON converts a decoded mongo-driver value into a document value.
func ValueFromBSON(x any) (document.Value, error) {
	switch t := x.(type) {
	case nil:
		return document.Null(), nil
	case primitive.MinKey:
		return document.MinValue(), nil
	case primitive.MaxKey:
		return document.MaxValue(), nil
	case int32:
		return document.Int32(t), nil
	case int64:
		return document.Int64(t), nil
	case float64:
		return document.Double(t), nil
	case string:
		return document.String(t), nil
	case bool:
		return document.Bool(t), nil
	case primitive.ObjectID:
		return document.ObjectID(t), nil
	case primitive.DateTime:
		return document.DateTime(t.Time()), nil
	case primitive.Binary:
		if t.Subtype == bsonSubtypeUUID && len(t.Data) == 16 {
			var id [16]byte
			copy(id[:], t.Data)
			return document.GUID(id), nil
		}
		return document.Binary(t.Data), nil
	case primitive.D:
		sub, err := FromBSON(t)
		if err != nil {
			return document.Value{}, err
		}
		return document.Doc(sub), nil
	case primitive.M:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := make(bson.D, 0, len(t))
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: t[k]})
		}
		return ValueFromBSON(d)
	case primitive.A:
		return arrayFromBSON(t)
	case []any:
		return arrayFromBSON(t)
	default:
		return document.Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, x)
	}
}

func arrayFromBSON(items []any) (document.Value, error) {
	out := make([]document.Value, len(items))
	for i := range items {
		v, err := ValueFromBSON(items[i])
		if err != nil {
			return document.Value{}, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = v
	}
	return document.Array(out...), nil
}
