package document

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_TypeClassOrder(t *testing.T) {
	ordered := []Value{
		MinValue(),
		Null(),
		Int32(-5),
		Double(1.5),
		Int64(2),
		String("a"),
		Doc(New(F("a", 1))),
		Array(Int32(1)),
		Binary([]byte{1}),
		ObjectID([12]byte{1}),
		GUID([16]byte{1}),
		Bool(false),
		Bool(true),
		DateTime(time.Unix(10, 0)),
		MaxValue(),
	}

	for i := 0; i < len(ordered)-1; i++ {
		assert.Equal(t, -1, Compare(ordered[i], ordered[i+1]), "%s < %s", ordered[i], ordered[i+1])
		assert.Equal(t, 1, Compare(ordered[i+1], ordered[i]), "%s > %s", ordered[i+1], ordered[i])
	}
}

func TestCompare_Numbers(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"int32 vs int64 equal", Int32(7), Int64(7), 0},
		{"int vs double equal", Int64(3), Double(3.0), 0},
		{"int vs double less", Int32(3), Double(3.5), -1},
		{"large int64", Int64(math.MaxInt64), Int64(math.MaxInt64 - 1), 1},
		{"nan first", Double(math.NaN()), Int32(math.MinInt32), -1},
		{"double below int past 2^53", Double(1 << 53), Int64(1<<53 + 1), -1},
		{"int past 2^53 above double", Int64(1<<53 + 1), Double(1 << 53), 1},
		{"int between doubles", Int64(1<<53 + 1), Double(1<<53 + 2), -1},
		{"max int64 below 2^63", Int64(math.MaxInt64), Double(0x1p63), -1},
		{"min int64 equals -2^63", Int64(math.MinInt64), Double(-0x1p63), 0},
		{"min int64 above smaller double", Int64(math.MinInt64), Double(-0x1p64), 1},
		{"negative fraction", Int32(-3), Double(-3.5), 1},
		{"infinity", Int64(math.MaxInt64), Double(math.Inf(1)), -1},
		{"negative zero", Int32(0), Double(math.Copysign(0, -1)), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestCompare_NumbersAreTotallyOrdered(t *testing.T) {
	values := []Value{
		Double(math.NaN()),
		Double(math.Inf(-1)),
		Double(-0x1p64),
		Int64(math.MinInt64),
		Double(-0x1p63),
		Double(-3.5),
		Int32(-3),
		Int32(0),
		Double(0.5),
		Int64(1 << 53),
		Double(1 << 53),
		Int64(1<<53 + 1),
		Int64(1<<53 + 2),
		Double(1<<53 + 2),
		Int64(math.MaxInt64),
		Double(0x1p63),
		Double(math.Inf(1)),
	}

	for _, a := range values {
		assert.Zero(t, Compare(a, a), "%s", a)
		for _, b := range values {
			assert.Equal(t, -Compare(b, a), Compare(a, b), "antisymmetry %s %s", a, b)
			for _, c := range values {
				ab, bc, ac := Compare(a, b), Compare(b, c), Compare(a, c)
				if ab <= 0 && bc <= 0 {
					assert.LessOrEqual(t, ac, 0, "%s <= %s <= %s", a, b, c)
				}
				if ab == 0 && bc == 0 {
					assert.Zero(t, ac, "%s == %s == %s", a, b, c)
				}
			}
		}
	}
}

func TestDocument_SetGetDelete(t *testing.T) {
	d := New(F("a", 1), F("b", "x"))
	d.Set("a", Int32(2))
	d.Set("c", Bool(true))

	assert.Equal(t, []string{"a", "b", "c"}, d.Keys())
	v, ok := d.Get("a")
	require.True(t, ok)
	assert.True(t, v.Equal(Int32(2)))

	assert.True(t, d.Delete("b"))
	assert.False(t, d.Delete("b"))
	assert.Equal(t, 2, d.Len())

	d.SetFirst(IDField, Int32(9))
	assert.Equal(t, []string{IDField, "a", "c"}, d.Keys())
}

func TestDocument_ID(t *testing.T) {
	_, ok := New(F("x", 1)).ID()
	assert.False(t, ok)

	_, ok = New(Field{Name: IDField, Value: Null()}).ID()
	assert.False(t, ok, "null id counts as missing")

	id, ok := New(F(IDField, "k")).ID()
	require.True(t, ok)
	assert.True(t, id.Equal(String("k")))
}

func TestDocument_Lookup(t *testing.T) {
	d := New(
		F("address", New(F("city", "Berlin"))),
		F("tags", []any{"a", "b"}),
	)

	v, ok := d.Lookup("address.city")
	require.True(t, ok)
	assert.True(t, v.Equal(String("Berlin")))

	v, ok = d.Lookup("tags.1")
	require.True(t, ok)
	assert.True(t, v.Equal(String("b")))

	_, ok = d.Lookup("address.zip")
	assert.False(t, ok)
	_, ok = d.Lookup("tags.7")
	assert.False(t, ok)
}

func TestDocument_CloneIsDeep(t *testing.T) {
	inner := New(F("n", 1))
	d := New(F("inner", inner), F("bin", []byte{1, 2}))

	c := d.Clone()
	require.True(t, d.Equal(c))

	inner.Set("n", Int32(2))
	assert.False(t, d.Equal(c))

	b, _ := c.Get("bin")
	raw, ok := b.AsBinary()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, raw)
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(42)
	require.NoError(t, err)
	assert.Equal(t, KindInt32, v.Kind())

	v, err = FromAny(int64(1) << 40)
	require.NoError(t, err)
	assert.Equal(t, KindInt64, v.Kind())

	v, err = FromAny(map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	doc, ok := v.AsDocument()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, doc.Keys())

	_, err = FromAny(struct{}{})
	assert.Error(t, err)

	_, err = FromAny(uint64(math.MaxUint64))
	assert.Error(t, err)
}

func TestDateTime_Truncated(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.FixedZone("x", 3600))
	v := DateTime(ts)
	got, ok := v.AsDateTime()
	require.True(t, ok)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123000000, got.Nanosecond())
}
