// Package codec centralizes document and metadata encoding.
//
// docstore treats codec selection as a breaking-change boundary: the codec
// name is recorded in the database header and an existing database is always
// reopened with the codec it was created with.
package codec

import (
	"fmt"

	"github.com/hupe1980/docstore/internal/compress"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
//
// This is used by the storage header, which stores the codec name so that
// reopening a database picks the codec the data was written with.
func ByName(name string) (Codec, bool) {
	switch name {
	case "bson":
		return BSON{}, true
	case "bson+lz4":
		return Compressed(BSON{}, compress.LZ4), true
	case "bson+zstd":
		return Compressed(BSON{}, compress.ZSTD), true
	default:
		return nil, false
	}
}

// Default is the default codec used by the library.
var Default Codec = BSON{}

// MustMarshal is a helper for internal tests/benchmarks.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
