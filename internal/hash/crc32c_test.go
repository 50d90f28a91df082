package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32CParts_MatchesContiguous(t *testing.T) {
	header := []byte{1, 2, 3, 4}
	body := []byte("page body")

	whole := append(append([]byte{}, header...), body...)
	assert.Equal(t, CRC32C(whole), CRC32CParts(header, body))

	h := NewCRC32C()
	_, _ = h.Write(header)
	_, _ = h.Write(body)
	assert.Equal(t, CRC32C(whole), h.Sum32())
}

func TestCRC32C_DetectsBitFlip(t *testing.T) {
	data := []byte("docstore")
	sum := CRC32C(data)
	data[3] ^= 0x01
	assert.NotEqual(t, sum, CRC32C(data))
}
