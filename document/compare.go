package document

import (
	"bytes"
	"cmp"
	"math"
	"strings"
)

// typeOrder maps a kind to its sort class. All numeric kinds share a class so
// that Int32(1), Int64(1) and Double(1) compare equal.
func typeOrder(k Kind) int {
	switch k {
	case KindMinValue:
		return 0
	case KindNull:
		return 1
	case KindInt32, KindInt64, KindDouble:
		return 2
	case KindString:
		return 3
	case KindDocument:
		return 4
	case KindArray:
		return 5
	case KindBinary:
		return 6
	case KindObjectID:
		return 7
	case KindGUID:
		return 8
	case KindBoolean:
		return 9
	case KindDateTime:
		return 10
	case KindMaxValue:
		return 11
	default:
		return 12
	}
}

// Compare orders a and b, returning -1, 0 or +1.
//
// Values of different type classes are ordered by class:
// MinValue < Null < numbers < String < Document < Array < Binary < ObjectID
// < GUID < Boolean < DateTime < MaxValue. Inside a class the natural order
// applies. Strings compare by byte order.
func Compare(a, b Value) int {
	ta, tb := typeOrder(a.kind), typeOrder(b.kind)
	if ta != tb {
		return cmp.Compare(ta, tb)
	}

	switch a.kind {
	case KindMinValue, KindNull, KindMaxValue:
		return 0
	case KindInt32, KindInt64, KindDouble:
		return compareNumbers(a, b)
	case KindString:
		return strings.Compare(a.str, b.str)
	case KindDocument:
		return compareDocuments(a.doc, b.doc)
	case KindArray:
		return compareArrays(a.arr, b.arr)
	case KindBinary, KindObjectID, KindGUID:
		return bytes.Compare(a.raw, b.raw)
	case KindBoolean:
		return cmp.Compare(a.i64, b.i64)
	case KindDateTime:
		return a.t.Compare(b.t)
	default:
		return 0
	}
}

func compareNumbers(a, b Value) int {
	switch {
	case a.kind != KindDouble && b.kind != KindDouble:
		return cmp.Compare(a.i64, b.i64)
	case a.kind == KindDouble && b.kind == KindDouble:
		return compareDoubles(a.f64, b.f64)
	case a.kind == KindDouble:
		return -compareIntDouble(b.i64, a.f64)
	default:
		return compareIntDouble(a.i64, b.f64)
	}
}

// NaN sorts before every other number.
func compareDoubles(a, b float64) int {
	switch na, nb := math.IsNaN(a), math.IsNaN(b); {
	case na && nb:
		return 0
	case na:
		return -1
	case nb:
		return 1
	}
	return cmp.Compare(a, b)
}

// compareIntDouble compares i and f exactly. Converting i to float64 would
// round above 2^53 and make distinct integers equal to the same double.
func compareIntDouble(i int64, f float64) int {
	const two63 = 0x1p63
	switch {
	case math.IsNaN(f):
		return 1
	case f < -two63:
		return 1
	case f >= two63:
		return -1
	}
	t := math.Trunc(f)
	if c := cmp.Compare(i, int64(t)); c != 0 {
		return c
	}
	switch frac := f - t; {
	case frac > 0:
		return -1
	case frac < 0:
		return 1
	}
	return 0
}

func compareArrays(a, b []Value) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func compareDocuments(a, b *Document) int {
	fa, fb := a.Fields(), b.Fields()
	n := min(len(fa), len(fb))
	for i := 0; i < n; i++ {
		if c := strings.Compare(fa[i].Name, fb[i].Name); c != 0 {
			return c
		}
		if c := Compare(fa[i].Value, fb[i].Value); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(fa), len(fb))
}
