package storage

import (
	"strata/config"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

type codecID uint8

const (
	codecNone codecID = iota
	codecSnappy
	codecZstd
)

// codec compresses entry payloads. The entry checksum always covers the
// uncompressed payload.
type codec interface {
	id() codecID
	compress(src []byte) []byte
	decompress(src []byte) ([]byte, error)
}

func newCodec(c config.Compression) (codec, error) {
	switch c {
	case config.CompressionNone, "":
		return noneCodec{}, nil
	case config.CompressionSnappy:
		return snappyCodec{}, nil
	case config.CompressionZstd:
		return newZstdCodec()
	default:
		return nil, errors.Wrapf(config.ErrInvalidConfig, "unknown compression %q", c)
	}
}

// codecFor returns the codec a record was written with, which may differ
// from the one currently configured.
func codecFor(configured codec, id codecID) (codec, error) {
	if configured.id() == id {
		return configured, nil
	}

	switch id {
	case codecNone:
		return noneCodec{}, nil
	case codecSnappy:
		return snappyCodec{}, nil
	case codecZstd:
		return newZstdCodec()
	default:
		return nil, errors.Wrapf(ErrMalformedRecord, "unknown compression codec %d", id)
	}
}

type noneCodec struct{}

func (noneCodec) id() codecID                           { return codecNone }
func (noneCodec) compress(src []byte) []byte            { return src }
func (noneCodec) decompress(src []byte) ([]byte, error) { return src, nil }

type snappyCodec struct{}

func (snappyCodec) id() codecID { return codecSnappy }

func (snappyCodec) compress(src []byte) []byte {
	return snappy.Encode(nil, src)
}

func (snappyCodec) decompress(src []byte) ([]byte, error) {
	b, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedRecord, err.Error())
	}

	return b, nil
}

// zstdCodec uses block mode only, so neither side starts goroutines.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithZeroFrames(true))
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "create zstd decoder")
	}

	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (*zstdCodec) id() codecID { return codecZstd }

func (c *zstdCodec) compress(src []byte) []byte {
	return c.enc.EncodeAll(src, nil)
}

func (c *zstdCodec) decompress(src []byte) ([]byte, error) {
	b, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedRecord, err.Error())
	}

	return b, nil
}
