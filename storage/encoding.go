package storage

import (
	"encoding/binary"
	"strata/config"

	"github.com/pkg/errors"
)

// FrameHeaderSize is the size of the little-endian length prefix of every frame.
const FrameHeaderSize = 4

var (
	ErrTruncatedFrame  = errors.New("truncated frame")
	ErrMalformedRecord = errors.New("malformed record")
)

// Encoder converts entries to and from the bytes stored inside a frame.
type Encoder interface {
	Encode(e *Entry) ([]byte, error)
	Decode(b []byte) (*Entry, error)
	Format() config.Format
}

// NewEncoder returns the encoder for the given format and payload compression.
func NewEncoder(format config.Format, compression config.Compression) (Encoder, error) {
	c, err := newCodec(compression)
	if err != nil {
		return nil, err
	}

	switch format {
	case config.FormatBinary:
		return &BinaryEncoder{codec: c}, nil
	case config.FormatJSON:
		return &JSONEncoder{codec: c}, nil
	default:
		return nil, errors.Wrapf(config.ErrInvalidConfig, "unknown format %q", format)
	}
}

// AppendFrame appends body to dst prefixed with its length.
func AppendFrame(dst []byte, body []byte) []byte {
	var hdr [FrameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))

	dst = append(dst, hdr[:]...)
	return append(dst, body...)
}

// FrameLen reads the length prefix at the start of b.
func FrameLen(b []byte) (uint32, error) {
	if len(b) < FrameHeaderSize {
		return 0, errors.Wrapf(ErrTruncatedFrame, "need %d header bytes, have %d", FrameHeaderSize, len(b))
	}

	return binary.LittleEndian.Uint32(b), nil
}

// ReadFrame splits the first frame off b, returning its body and the rest.
func ReadFrame(b []byte) (body []byte, rest []byte, err error) {
	n, err := FrameLen(b)
	if err != nil {
		return nil, nil, err
	}

	b = b[FrameHeaderSize:]
	if uint64(len(b)) < uint64(n) {
		return nil, nil, errors.Wrapf(ErrTruncatedFrame, "need %d body bytes, have %d", n, len(b))
	}

	return b[:n], b[n:], nil
}

// EncodeFrame encodes e and frames it.
func EncodeFrame(enc Encoder, e *Entry) ([]byte, error) {
	body, err := enc.Encode(e)
	if err != nil {
		return nil, err
	}

	return AppendFrame(make([]byte, 0, FrameHeaderSize+len(body)), body), nil
}

// emptyAsNil makes an empty payload decode the same way in every format.
func emptyAsNil(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	return b
}

func verify(e *Entry) error {
	if c := Checksum(e.Payload); c != e.Checksum {
		return errors.Wrapf(ErrMalformedRecord, "invalid checksum for index %d: expected %d, got %d", e.Index, e.Checksum, c)
	}

	return nil
}
