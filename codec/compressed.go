package codec

import (
	"github.com/hupe1980/docstore/internal/compress"
)

// CompressedCodec wraps another codec and compresses its output.
type CompressedCodec struct {
	inner Codec
	typ   compress.Type
}

// Compressed returns a codec that compresses the output of inner with the
// given algorithm (compress.LZ4 or compress.ZSTD).
func Compressed(inner Codec, typ compress.Type) *CompressedCodec {
	if inner == nil {
		inner = Default
	}
	return &CompressedCodec{inner: inner, typ: typ}
}

// Marshal encodes v with the inner codec and compresses the result.
func (c *CompressedCodec) Marshal(v any) ([]byte, error) {
	raw, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return compress.Encode(raw, c.typ)
}

// Unmarshal decompresses data and decodes it with the inner codec.
func (c *CompressedCodec) Unmarshal(data []byte, v any) error {
	raw, err := compress.Decode(data)
	if err != nil {
		return err
	}
	return c.inner.Unmarshal(raw, v)
}

// Name returns "<inner>+<algorithm>", e.g. "bson+lz4".
func (c *CompressedCodec) Name() string {
	return c.inner.Name() + "+" + c.typ.String()
}

// LZ4 returns inner compressed with LZ4.
func LZ4(inner Codec) *CompressedCodec { return Compressed(inner, compress.LZ4) }

// ZSTD returns inner compressed with Zstandard.
func ZSTD(inner Codec) *CompressedCodec { return Compressed(inner, compress.ZSTD) }
