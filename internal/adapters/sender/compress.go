package sender

import (
	"fmt"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names a payload compression algorithm.
type Codec string

const (
	CodecNone   Codec = "none"
	CodecSnappy Codec = "snappy"
	CodecLZ4    Codec = "lz4"
	CodecZstd   Codec = "zstd"
)

// ParseCodec maps a config value to a Codec. Empty selects snappy.
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case "":
		return CodecSnappy, nil
	case CodecNone, CodecSnappy, CodecLZ4, CodecZstd:
		return Codec(name), nil
	default:
		return "", fmt.Errorf("unknown compression codec %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("sender: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("sender: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the compressed bytes and the codec actually applied.
// Incompressible LZ4 input is stored raw.
func compress(c Codec, data []byte) ([]byte, Codec, error) {
	switch c {
	case CodecNone:
		return data, CodecNone, nil
	case CodecSnappy:
		return snappy.Encode(nil, data), CodecSnappy, nil
	case CodecZstd:
		return zstdEncoder.EncodeAll(data, nil), CodecZstd, nil
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, "", fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			return data, CodecNone, nil
		}
		return dst[:n], CodecLZ4, nil
	default:
		return nil, "", fmt.Errorf("unknown compression codec %q", c)
	}
}

func decompress(c Codec, data []byte, rawSize int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch c {
	case CodecNone:
		out = data
	case CodecSnappy:
		out, err = snappy.Decode(nil, data)
	case CodecZstd:
		out, err = zstdDecoder.DecodeAll(data, make([]byte, 0, rawSize))
	case CodecLZ4:
		out = make([]byte, rawSize)
		var n int
		n, err = lz4.UncompressBlock(data, out)
		out = out[:n]
	default:
		return nil, fmt.Errorf("unknown compression codec %q", c)
	}
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", c, err)
	}
	if len(out) != rawSize {
		return nil, fmt.Errorf("%s decompress: got %d bytes, expected %d", c, len(out), rawSize)
	}
	return out, nil
}
