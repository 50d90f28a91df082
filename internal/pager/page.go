package pager

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/docstore/internal/hash"
)

// PageID identifies a page. Zero is never allocated.
type PageID uint32

// InvalidPage is the zero PageID.
const InvalidPage PageID = 0

// PageType tags the content of a page.
type PageType uint8

const (
	// PageTypeData holds a segment of a serialized document.
	PageTypeData PageType = 1
	// PageTypeIndex holds a node of an index tree.
	PageTypeIndex PageType = 2
	// PageTypeCollection holds a segment of collection metadata.
	PageTypeCollection PageType = 3
)

func (t PageType) String() string {
	switch t {
	case PageTypeData:
		return "data"
	case PageTypeIndex:
		return "index"
	case PageTypeCollection:
		return "collection"
	default:
		return fmt.Sprintf("PageType(%d)", uint8(t))
	}
}

const (
	// PageHeaderSize is the fixed per-page overhead.
	PageHeaderSize = 16
	// DefaultPageSize is used when a new database does not configure one.
	DefaultPageSize = 4096
	// MinPageSize is the smallest accepted page size.
	MinPageSize = 256
	// MaxPageSize is the largest accepted page size.
	MaxPageSize = 1 << 20
)

// Page is a decoded page.
type Page struct {
	ID   PageID
	Type PageType
	Next PageID // next page of the chain, InvalidPage at the tail
	Data []byte
}

// Page layout:
//
//	[Type: 1] [Reserved: 3] [Next: 4] [Used: 4] [CRC32C: 4] [Data: Used]
//
// The checksum covers the first 12 header bytes and the data. Only the used
// prefix of a page is stored.
func encodePage(typ PageType, next PageID, data []byte) []byte {
	buf := make([]byte, PageHeaderSize+len(data))
	buf[0] = byte(typ)
	binary.LittleEndian.PutUint32(buf[4:], uint32(next))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(data)))
	copy(buf[PageHeaderSize:], data)
	binary.LittleEndian.PutUint32(buf[12:], hash.CRC32CParts(buf[:12], buf[PageHeaderSize:]))
	return buf
}

func decodePage(id PageID, buf []byte) (Page, error) {
	if len(buf) < PageHeaderSize {
		return Page{}, fmt.Errorf("%w: page %d: short header", ErrChecksum, id)
	}
	used := binary.LittleEndian.Uint32(buf[8:])
	if int(used) != len(buf)-PageHeaderSize {
		return Page{}, fmt.Errorf("%w: page %d: length %d, header says %d", ErrChecksum, id, len(buf)-PageHeaderSize, used)
	}
	want := binary.LittleEndian.Uint32(buf[12:])
	if got := hash.CRC32CParts(buf[:12], buf[PageHeaderSize:]); got != want {
		return Page{}, fmt.Errorf("%w: page %d: crc %08x, want %08x", ErrChecksum, id, got, want)
	}
	return Page{
		ID:   id,
		Type: PageType(buf[0]),
		Next: PageID(binary.LittleEndian.Uint32(buf[4:])),
		Data: buf[PageHeaderSize:],
	}, nil
}

func pageName(id PageID) string {
	return fmt.Sprintf("pages/%010d", uint32(id))
}
