// Package autoid generates primary keys for documents that do not carry one.
package autoid

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hupe1980/docstore/document"
)

// Strategy selects how a missing _id is generated.
type Strategy uint8

const (
	// ObjectID generates a 12 byte ObjectID. This is the default.
	ObjectID Strategy = iota
	// Int32 generates collection-scoped, strictly increasing int32 ids.
	Int32
	// Int64 generates collection-scoped, strictly increasing int64 ids.
	Int64
	// GUID generates random version 4 UUIDs.
	GUID
	// KSUID generates time-sortable KSUID strings.
	KSUID
	// None disables generation; documents must carry an _id.
	None
)

var strategyNames = [...]string{"objectid", "int32", "int64", "guid", "ksuid", "none"}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("Strategy(%d)", uint8(s))
}

// ParseStrategy parses the name returned by Strategy.String.
func ParseStrategy(name string) (Strategy, error) {
	for i, n := range strategyNames {
		if strings.EqualFold(n, name) {
			return Strategy(i), nil
		}
	}
	return 0, fmt.Errorf("autoid: unknown strategy %q", name)
}

var (
	// ErrMissingID is returned when generation is disabled and _id is absent.
	ErrMissingID = errors.New("autoid: document has no _id and generation is disabled")
	// ErrInvalidID is returned for _id values that cannot be primary keys.
	ErrInvalidID = errors.New("autoid: _id must not be MinValue or MaxValue")
	// ErrSequenceExhausted is returned when an integer sequence overflows.
	ErrSequenceExhausted = errors.New("autoid: sequence exhausted")
)

// Check validates the _id of doc against the strategy without mutating
// anything.
func Check(doc *document.Document, s Strategy) error {
	id, ok := doc.ID()
	if !ok {
		if s == None {
			return ErrMissingID
		}
		return nil
	}
	if id.IsSentinel() {
		return ErrInvalidID
	}
	return nil
}

// Assign makes sure doc carries a valid _id and returns it. The generated
// flag reports whether the id was created here.
//
// seq is the collection's sequence high-water mark. Generated integer ids
// advance it, explicit integer ids above it raise it so later generated ids
// never collide with them.
func Assign(doc *document.Document, s Strategy, seq *int64) (document.Value, bool, error) {
	if err := Check(doc, s); err != nil {
		return document.Value{}, false, err
	}

	if id, ok := doc.ID(); ok {
		if n, isInt := id.AsInt64(); isInt && n > *seq {
			*seq = n
		}
		return id, false, nil
	}

	id, err := generate(s, seq)
	if err != nil {
		return document.Value{}, false, err
	}
	doc.SetFirst(document.IDField, id)
	return id, true, nil
}

func generate(s Strategy, seq *int64) (document.Value, error) {
	switch s {
	case ObjectID:
		return document.ObjectID(primitive.NewObjectID()), nil
	case Int32:
		if *seq >= math.MaxInt32 {
			return document.Value{}, fmt.Errorf("%w: int32 high-water mark %d", ErrSequenceExhausted, *seq)
		}
		*seq++
		return document.Int32(int32(*seq)), nil
	case Int64:
		if *seq == math.MaxInt64 {
			return document.Value{}, fmt.Errorf("%w: int64", ErrSequenceExhausted)
		}
		*seq++
		return document.Int64(*seq), nil
	case GUID:
		return document.GUID(uuid.New()), nil
	case KSUID:
		return document.String(ksuid.New().String()), nil
	default:
		return document.Value{}, fmt.Errorf("autoid: unknown strategy %s", s)
	}
}
