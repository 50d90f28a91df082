// Package document defines the typed document model stored by docstore.
//
// A Document is an ordered list of fields. Values form a closed set of kinds:
//
//   - Null, MinValue, MaxValue
//   - Int32, Int64, Double
//   - String, Binary, Boolean, DateTime
//   - ObjectID, GUID
//   - Document, Array
//
// Example:
//
//	doc := document.New(
//	    document.F("_id", 1),
//	    document.F("name", "Alice"),
//	    document.F("tags", []any{"a", "b"}),
//	)
//
// # Ordering
//
// Compare defines a total order over values that is used by every index. The
// type class is compared first, then the value inside the class. Numbers of
// different widths compare numerically.
package document
