package storage

import (
	"strata/config"
	"testing"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(t *testing.T, index uint64) *Entry {
	t.Helper()

	payload := []byte(faker.Paragraph())

	return &Entry{
		Index:         index,
		Term:          3,
		Payload:       payload,
		Checksum:      Checksum(payload),
		Timestamp:     time.Now(),
		TransactionID: faker.UUIDHyphenated(),
	}
}

func encoders(t *testing.T) map[string]Encoder {
	t.Helper()

	out := map[string]Encoder{}
	for _, f := range []config.Format{config.FormatBinary, config.FormatJSON} {
		for _, c := range []config.Compression{config.CompressionNone, config.CompressionSnappy, config.CompressionZstd} {
			enc, err := NewEncoder(f, c)
			require.NoError(t, err)
			out[string(f)+"/"+string(c)] = enc
		}
	}

	return out
}

func TestEncodeDecode(t *testing.T) {
	for name, enc := range encoders(t) {
		t.Run(name, func(t *testing.T) {
			e := newEntry(t, 42)

			b, err := enc.Encode(e)
			require.NoError(t, err)

			got, err := enc.Decode(b)
			require.NoError(t, err)

			assert.Equal(t, e.Index, got.Index)
			assert.Equal(t, e.Term, got.Term)
			assert.Equal(t, e.Payload, got.Payload)
			assert.Equal(t, e.Checksum, got.Checksum)
			assert.Equal(t, e.TransactionID, got.TransactionID)
			assert.True(t, e.Timestamp.Equal(got.Timestamp))
		})
	}
}

func TestEmptyPayloadDecodesAsNil(t *testing.T) {
	for name, enc := range encoders(t) {
		t.Run(name, func(t *testing.T) {
			for _, payload := range [][]byte{nil, {}} {
				e := &Entry{Index: 1, Payload: payload, Checksum: Checksum(payload), Timestamp: time.Now()}

				b, err := enc.Encode(e)
				require.NoError(t, err)

				got, err := enc.Decode(b)
				require.NoError(t, err)
				assert.Nil(t, got.Payload)
			}
		})
	}
}

func TestDecodeWithOtherCompression(t *testing.T) {
	zstdEnc, err := NewEncoder(config.FormatBinary, config.CompressionZstd)
	require.NoError(t, err)
	plainEnc, err := NewEncoder(config.FormatBinary, config.CompressionNone)
	require.NoError(t, err)

	e := newEntry(t, 7)
	b, err := zstdEnc.Encode(e)
	require.NoError(t, err)

	got, err := plainEnc.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, e.Payload, got.Payload)
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	for name, enc := range encoders(t) {
		t.Run(name, func(t *testing.T) {
			e := newEntry(t, 1)
			e.Checksum++

			b, err := enc.Encode(e)
			require.NoError(t, err)

			_, err = enc.Decode(b)
			assert.True(t, errors.Is(err, ErrMalformedRecord))
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for name, enc := range encoders(t) {
		t.Run(name, func(t *testing.T) {
			_, err := enc.Decode([]byte{0xff, 0xff, 0xff})
			assert.True(t, errors.Is(err, ErrMalformedRecord))

			_, err = enc.Decode(nil)
			assert.True(t, errors.Is(err, ErrMalformedRecord))
		})
	}
}

func TestNewEncoderRejectsUnknown(t *testing.T) {
	_, err := NewEncoder("xml", config.CompressionNone)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))

	_, err = NewEncoder(config.FormatBinary, "brotli")
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestFrames(t *testing.T) {
	enc, err := NewEncoder(config.FormatBinary, config.CompressionNone)
	require.NoError(t, err)

	first, err := EncodeFrame(enc, newEntry(t, 1))
	require.NoError(t, err)
	second, err := EncodeFrame(enc, newEntry(t, 2))
	require.NoError(t, err)

	buf := append(append([]byte{}, first...), second...)

	body, rest, err := ReadFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, first[FrameHeaderSize:], body)
	assert.Equal(t, second, rest)

	_, _, err = ReadFrame(second[:len(second)-3])
	assert.True(t, errors.Is(err, ErrTruncatedFrame))

	_, _, err = ReadFrame(second[:2])
	assert.True(t, errors.Is(err, ErrTruncatedFrame))

	e, err := enc.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Index)
}
