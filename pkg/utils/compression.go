package utils

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the frame header every zstd stream starts with.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ZstdEncoder wraps a reusable zstd encoder. EncodeAll is safe for
// concurrent use, so a single encoder can serve a whole process.
type ZstdEncoder struct {
	enc *zstd.Encoder
}

func NewZstdEncoder() (*ZstdEncoder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &ZstdEncoder{enc: enc}, nil
}

// Compress compresses data. Empty input is rejected because an empty
// payload is never a valid JSON document.
func (e *ZstdEncoder) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot compress empty data")
	}
	return e.enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (e *ZstdEncoder) Close() {
	if e.enc != nil {
		e.enc.Close()
	}
}

// ZstdDecoder wraps a reusable zstd decoder.
type ZstdDecoder struct {
	dec *zstd.Decoder
}

func NewZstdDecoder() (*ZstdDecoder, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdDecoder{dec: dec}, nil
}

func (d *ZstdDecoder) Decompress(compressedData []byte) ([]byte, error) {
	if len(compressedData) == 0 {
		return nil, fmt.Errorf("cannot decompress empty data")
	}

	decompressed, err := d.dec.DecodeAll(compressedData, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}
	if len(decompressed) == 0 {
		return nil, fmt.Errorf("decompression failed: output is empty")
	}
	return decompressed, nil
}

func (d *ZstdDecoder) Close() {
	if d.dec != nil {
		d.dec.Close()
	}
}

// IsCompressed reports whether data starts with a zstd frame header.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// GetCompressionRatio calculates the space saved as a percentage.
func GetCompressionRatio(originalSize, compressedSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	return float64(originalSize-compressedSize) / float64(originalSize) * 100
}
