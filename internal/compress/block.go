package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used for a block.
type Type uint8

const (
	// None stores the block as-is.
	None Type = 0
	// LZ4 is fast block compression, good for hot document data.
	LZ4 Type = 1
	// ZSTD trades speed for a better ratio, used for log page images.
	ZSTD Type = 2
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compress(%d)", uint8(t))
	}
}

var (
	// ErrCorruptBlock is returned when a block header or payload is malformed.
	ErrCorruptBlock = errors.New("corrupt compressed block")
)

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Block format: [Type uint8][UncompressedSize uint32][CompressedSize uint32][Data...]
// CompressedSize == 0 means the data is stored uncompressed.
const headerSize = 9

// Encode compresses data with the given algorithm and prepends a header.
// Incompressible input is stored raw.
func Encode(data []byte, t Type) ([]byte, error) {
	var compressed []byte
	var err error

	switch t {
	case None:
	case LZ4:
		compressed, err = compressLZ4(data)
	case ZSTD:
		compressed = compressZSTD(data)
	default:
		return nil, fmt.Errorf("unsupported compression type %d", t)
	}
	if err != nil {
		return nil, err
	}

	// If compression doesn't help (ratio > 0.9), store uncompressed
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		out[0] = byte(t)
		binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[5:], 0)
		copy(out[headerSize:], data)
		return out, nil
	}

	out := make([]byte, headerSize+len(compressed))
	out[0] = byte(t)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(compressed)))
	copy(out[headerSize:], compressed)
	return out, nil
}

// Decode reverses Encode. The algorithm is read from the block header.
func Decode(block []byte) ([]byte, error) {
	if len(block) < headerSize {
		return nil, fmt.Errorf("%w: block too small for header", ErrCorruptBlock)
	}

	t := Type(block[0])
	uncompressedSize := binary.LittleEndian.Uint32(block[1:])
	compressedSize := binary.LittleEndian.Uint32(block[5:])

	if compressedSize == 0 {
		if uint64(len(block)) < headerSize+uint64(uncompressedSize) {
			return nil, fmt.Errorf("%w: block data too small", ErrCorruptBlock)
		}
		out := make([]byte, uncompressedSize)
		copy(out, block[headerSize:])
		return out, nil
	}

	if uint64(len(block)) < headerSize+uint64(compressedSize) {
		return nil, fmt.Errorf("%w: compressed block data too small", ErrCorruptBlock)
	}
	payload := block[headerSize : headerSize+compressedSize]
	result := make([]byte, uncompressedSize)

	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(payload, result)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
		}
		if uint32(n) != uncompressedSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorruptBlock)
		}
		return result, nil

	case ZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		decoded, err := dec.DecodeAll(payload, result[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorruptBlock)
		}
		return decoded, nil

	default:
		return nil, fmt.Errorf("%w: unknown compression type %d", ErrCorruptBlock, t)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // Incompressible
	}
	return compressed[:n], nil
}

func compressZSTD(data []byte) []byte {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)

	return enc.EncodeAll(data, nil)
}
