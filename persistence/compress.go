package persistence

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec applied to the metadata log payload. The
// name is recorded in the log header, so files are always decoded with the
// codec that wrote them.
type Compression string

const (
	// CompressionNone stores the payload verbatim.
	CompressionNone Compression = "none"
	// CompressionZstd favors ratio; snippet text typically shrinks 3-5x.
	CompressionZstd Compression = "zstd"
	// CompressionLZ4 favors speed over ratio.
	CompressionLZ4 Compression = "lz4"
)

// Valid reports whether c names a supported compression codec.
func (c Compression) Valid() bool {
	switch c {
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return true
	default:
		return false
	}
}

// Shared zstd coders: both are stateless in EncodeAll/DecodeAll mode and
// safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Compress encodes data with the selected codec.
func Compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %q", c)
	}
}

// Decompress decodes data written by Compress with the same codec.
func Decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdDecoder.DecodeAll(data, nil)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unsupported compression: %q", c)
	}
}
