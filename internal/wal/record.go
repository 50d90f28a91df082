package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/docstore/internal/compress"
	"github.com/hupe1980/docstore/internal/hash"
)

// RecordType identifies the type of WAL record.
type RecordType uint8

const (
	// RecordTypePage carries a full page image written by a transaction.
	RecordTypePage RecordType = 1
	// RecordTypeCommit marks a transaction as committed. It lists the pages
	// that belong to the commit and carries the storage header to install.
	RecordTypeCommit RecordType = 2
)

var (
	ErrInvalidCRC     = errors.New("invalid WAL record checksum")
	ErrInvalidType    = errors.New("invalid WAL record type")
	ErrShortRead      = errors.New("short read in WAL record")
	ErrRecordTooLarge = errors.New("WAL record too large")
)

// maxRecordSize bounds a single record payload.
const maxRecordSize = 100 * 1024 * 1024

// Frame: [CRC32C: 4 bytes] [Type: 1 byte] [TxID: 8 bytes] [Length: 4 bytes] [Payload: Length bytes]
const frameHeaderSize = 4 + 1 + 8 + 4

// Record represents a single entry in the WAL.
type Record struct {
	Type RecordType
	TxID uint64

	// Page records.
	PageID uint32
	Data   []byte // page image; for commit records the storage header

	// Commit records.
	LSN   uint64
	Pages []byte // serialized set of page ids that belong to the commit
}

// marshal encodes the record into a single frame. Page images are compressed
// with the given algorithm.
//
// Payload for Page:   [PageID: 4 bytes] [Block: compressed page image]
// Payload for Commit: [LSN: 8 bytes] [PagesLen: 4 bytes] [Pages] [Header]
func (r *Record) marshal(c compress.Type) ([]byte, error) {
	var payload []byte
	switch r.Type {
	case RecordTypePage:
		block, err := compress.Encode(r.Data, c)
		if err != nil {
			return nil, err
		}
		payload = make([]byte, 4+len(block))
		binary.LittleEndian.PutUint32(payload, r.PageID)
		copy(payload[4:], block)
	case RecordTypeCommit:
		payload = make([]byte, 8+4+len(r.Pages)+len(r.Data))
		binary.LittleEndian.PutUint64(payload, r.LSN)
		binary.LittleEndian.PutUint32(payload[8:], uint32(len(r.Pages)))
		copy(payload[12:], r.Pages)
		copy(payload[12+len(r.Pages):], r.Data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, r.Type)
	}

	if len(payload) > maxRecordSize {
		return nil, ErrRecordTooLarge
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	frame[4] = byte(r.Type)
	binary.LittleEndian.PutUint64(frame[5:], r.TxID)
	binary.LittleEndian.PutUint32(frame[13:], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	binary.LittleEndian.PutUint32(frame[0:], hash.CRC32C(frame[4:]))
	return frame, nil
}

// Decode reads a record from r. It returns the number of bytes consumed.
func Decode(r io.Reader) (*Record, int64, error) {
	header := make([]byte, frameHeaderSize)
	if n, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, int64(n), ErrShortRead
		}
		return nil, int64(n), err
	}

	length := binary.LittleEndian.Uint32(header[13:])
	if length > maxRecordSize {
		return nil, frameHeaderSize, ErrRecordTooLarge
	}

	payload := make([]byte, length)
	if n, err := io.ReadFull(r, payload); err != nil {
		return nil, frameHeaderSize + int64(n), ErrShortRead
	}

	rec, err := parse(header, payload)
	return rec, frameHeaderSize + int64(length), err
}

func parse(header, payload []byte) (*Record, error) {
	checksum := binary.LittleEndian.Uint32(header[0:])
	if hash.CRC32CParts(header[4:], payload) != checksum {
		return nil, ErrInvalidCRC
	}

	rec := &Record{
		Type: RecordType(header[4]),
		TxID: binary.LittleEndian.Uint64(header[5:]),
	}

	switch rec.Type {
	case RecordTypePage:
		if len(payload) < 4 {
			return nil, ErrShortRead
		}
		rec.PageID = binary.LittleEndian.Uint32(payload)
		data, err := compress.Decode(payload[4:])
		if err != nil {
			return nil, err
		}
		rec.Data = data
	case RecordTypeCommit:
		if len(payload) < 12 {
			return nil, ErrShortRead
		}
		rec.LSN = binary.LittleEndian.Uint64(payload)
		pagesLen := int(binary.LittleEndian.Uint32(payload[8:]))
		if len(payload) < 12+pagesLen {
			return nil, ErrShortRead
		}
		rec.Pages = append([]byte(nil), payload[12:12+pagesLen]...)
		rec.Data = append([]byte(nil), payload[12+pagesLen:]...)
	default:
		return nil, ErrInvalidType
	}
	return rec, nil
}
