package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/nvandessel/eventradar/internal/errs"
)

// Vector blob layout, all little-endian:
//
//	magic   [4]byte "EVRV"
//	version uint16
//	_       uint16 reserved
//	dim     uint32
//	count   uint32
//	rows    count*dim float32, slot order
const (
	blobMagic      = "EVRV"
	blobVersion    = 1
	blobHeaderSize = 16
)

// encodeBlob serializes vectors (count rows of dim) into the blob format.
func encodeBlob(dim int, vectors []float32) []byte {
	count := len(vectors) / dim
	buf := make([]byte, 0, blobHeaderSize+len(vectors)*4)
	buf = append(buf, blobMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, blobVersion)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(count))
	return appendFloat32s(buf, vectors)
}

// decodeBlob parses a blob and returns its dimension and rows.
func decodeBlob(b []byte) (int, []float32, error) {
	if len(b) < blobHeaderSize {
		return 0, nil, fmt.Errorf("%w: vector blob truncated (%d bytes)", errs.ErrCorruptSnapshot, len(b))
	}
	if string(b[:4]) != blobMagic {
		return 0, nil, fmt.Errorf("%w: bad vector blob magic %q", errs.ErrCorruptSnapshot, b[:4])
	}
	if v := binary.LittleEndian.Uint16(b[4:6]); v != blobVersion {
		return 0, nil, fmt.Errorf("%w: unsupported vector blob version %d", errs.ErrCorruptSnapshot, v)
	}
	dim := int(binary.LittleEndian.Uint32(b[8:12]))
	count := int(binary.LittleEndian.Uint32(b[12:16]))
	body := b[blobHeaderSize:]
	if dim <= 0 || len(body) != count*dim*4 {
		return 0, nil, fmt.Errorf("%w: vector blob holds %d bytes for %d rows of dimension %d",
			errs.ErrCorruptSnapshot, len(body), count, dim)
	}
	return dim, decodeFloat32s(body), nil
}

// appendFloat32s appends v to dst as little-endian float32 values.
func appendFloat32s(dst []byte, v []float32) []byte {
	for _, f := range v {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst
}

// decodeFloat32s decodes little-endian float32 values. len(b) must be a
// multiple of 4.
func decodeFloat32s(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// checksum returns the hex xxhash64 digest of b.
func checksum(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}
