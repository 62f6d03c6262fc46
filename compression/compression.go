// Package compression provides the block codec used to shrink large
// dictionary blobs before they are written to disk.
//
// A Codec must round-trip exactly: Decompress(Compress(b), len(b)) == b.
// Framing (sizes, flags) is the caller's responsibility; codecs operate
// on raw byte blocks only.
package compression

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrIncompressible is returned by Compress when the codec cannot shrink
// the input. Callers should store the original bytes uncompressed.
var ErrIncompressible = errors.New("input is incompressible")

// Codec compresses and decompresses byte blocks.
type Codec interface {
	// Name identifies the codec in logs and error messages.
	Name() string

	// Compress returns the compressed form of src.
	Compress(src []byte) ([]byte, error)

	// Decompress reverses Compress. expectedSize is the exact size of the
	// original input; a mismatch is a format error.
	Decompress(src []byte, expectedSize int) ([]byte, error)
}

// ZSTD encoder/decoder pools, shared across all ZstdCodec values.
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

// ZstdCodec is the default codec. Stateless; safe for concurrent use.
type ZstdCodec struct{}

// Zstd returns the default zstd block codec.
func Zstd() *ZstdCodec { return &ZstdCodec{} }

func (c *ZstdCodec) Name() string { return "zstd" }

func (c *ZstdCodec) Compress(src []byte) ([]byte, error) {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)

	return enc.EncodeAll(src, nil), nil
}

func (c *ZstdCodec) Decompress(src []byte, expectedSize int) ([]byte, error) {
	dec := getZstdDecoder()
	defer putZstdDecoder(dec)

	out, err := dec.DecodeAll(src, make([]byte, 0, expectedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd block: %w", err)
	}
	if len(out) != expectedSize {
		return nil, fmt.Errorf("zstd block size mismatch: expected %d, got %d", expectedSize, len(out))
	}
	return out, nil
}

// LZ4Codec trades ratio for speed. Safe for concurrent use.
type LZ4Codec struct{}

// LZ4 returns the lz4 block codec.
func LZ4() *LZ4Codec { return &LZ4Codec{} }

func (c *LZ4Codec) Name() string { return "lz4" }

func (c *LZ4Codec) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))

	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to compress lz4 block: %w", err)
	}
	if n == 0 {
		return nil, ErrIncompressible
	}
	return dst[:n], nil
}

func (c *LZ4Codec) Decompress(src []byte, expectedSize int) ([]byte, error) {
	dst := make([]byte, expectedSize)

	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress lz4 block: %w", err)
	}
	if n != expectedSize {
		return nil, fmt.Errorf("lz4 block size mismatch: expected %d, got %d", expectedSize, n)
	}
	return dst, nil
}
