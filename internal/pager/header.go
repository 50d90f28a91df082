package pager

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	headerBlob    = "header"
	headerVersion = 1
)

// header is the committed allocator and catalog state. It is written as the
// last step of every commit; the pages it references are already durable.
type header struct {
	Version  int64            `bson:"version"`
	LSN      int64            `bson:"lsn"`
	PageSize int64            `bson:"page_size"`
	NextPage int64            `bson:"next_page"`
	Free     []byte           `bson:"free"`
	Catalog  map[string]int64 `bson:"catalog"`
	Codec    string           `bson:"codec"`
}

type state struct {
	lsn      uint64
	pageSize int
	nextPage PageID
	free     *roaring.Bitmap
	catalog  map[string]PageID
	codec    string
}

func (s *state) encode() ([]byte, error) {
	free, err := s.free.ToBytes()
	if err != nil {
		return nil, err
	}
	catalog := make(map[string]int64, len(s.catalog))
	for name, id := range s.catalog {
		catalog[name] = int64(id)
	}
	return bson.Marshal(header{
		Version:  headerVersion,
		LSN:      int64(s.lsn),
		PageSize: int64(s.pageSize),
		NextPage: int64(s.nextPage),
		Free:     free,
		Catalog:  catalog,
		Codec:    s.codec,
	})
}

func decodeState(data []byte) (*state, error) {
	var h header
	if err := bson.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}
	if h.Version != headerVersion {
		return nil, fmt.Errorf("%w: unsupported header version %d", ErrCorrupt, h.Version)
	}
	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize || h.NextPage < 1 {
		return nil, fmt.Errorf("%w: header: page size %d, next page %d", ErrCorrupt, h.PageSize, h.NextPage)
	}

	free := roaring.New()
	if len(h.Free) > 0 {
		if err := free.UnmarshalBinary(h.Free); err != nil {
			return nil, fmt.Errorf("%w: free set: %w", ErrCorrupt, err)
		}
	}
	catalog := make(map[string]PageID, len(h.Catalog))
	for name, id := range h.Catalog {
		catalog[name] = PageID(id)
	}
	return &state{
		lsn:      uint64(h.LSN),
		pageSize: int(h.PageSize),
		nextPage: PageID(h.NextPage),
		free:     free,
		catalog:  catalog,
		codec:    h.Codec,
	}, nil
}
