package storage

import (
	"strata/config"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the binary record layout. The layout is the protobuf wire
// format, so fields may be added later without breaking existing segments.
const (
	fieldIndex         protowire.Number = 1
	fieldTerm          protowire.Number = 2
	fieldPayload       protowire.Number = 3
	fieldChecksum      protowire.Number = 4
	fieldTimestamp     protowire.Number = 5
	fieldTransactionID protowire.Number = 6
	fieldCodec         protowire.Number = 7
)

// BinaryEncoder is the compact encoding.
type BinaryEncoder struct {
	codec codec
}

func (b *BinaryEncoder) Format() config.Format {
	return config.FormatBinary
}

func (b *BinaryEncoder) Encode(e *Entry) ([]byte, error) {
	payload := b.codec.compress(e.Payload)

	buf := make([]byte, 0, 48+len(payload)+len(e.TransactionID))

	buf = protowire.AppendTag(buf, fieldIndex, protowire.VarintType)
	buf = protowire.AppendVarint(buf, e.Index)
	buf = protowire.AppendTag(buf, fieldTerm, protowire.VarintType)
	buf = protowire.AppendVarint(buf, e.Term)
	buf = protowire.AppendTag(buf, fieldPayload, protowire.BytesType)
	buf = protowire.AppendBytes(buf, payload)
	buf = protowire.AppendTag(buf, fieldChecksum, protowire.Fixed32Type)
	buf = protowire.AppendFixed32(buf, e.Checksum)
	buf = protowire.AppendTag(buf, fieldTimestamp, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(e.Timestamp.UnixNano()))

	if e.TransactionID != "" {
		buf = protowire.AppendTag(buf, fieldTransactionID, protowire.BytesType)
		buf = protowire.AppendString(buf, e.TransactionID)
	}

	if id := b.codec.id(); id != codecNone {
		buf = protowire.AppendTag(buf, fieldCodec, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(id))
	}

	return buf, nil
}

func (b *BinaryEncoder) Decode(buf []byte) (*Entry, error) {
	var (
		e       Entry
		payload []byte
		codec   codecID
		seen    bool
	)

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.Wrap(ErrMalformedRecord, protowire.ParseError(n).Error())
		}
		buf = buf[n:]

		switch {
		case num == fieldIndex && typ == protowire.VarintType:
			e.Index, n = protowire.ConsumeVarint(buf)
			seen = true
		case num == fieldTerm && typ == protowire.VarintType:
			e.Term, n = protowire.ConsumeVarint(buf)
		case num == fieldPayload && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(buf)
			payload = append([]byte(nil), v...)
		case num == fieldChecksum && typ == protowire.Fixed32Type:
			e.Checksum, n = protowire.ConsumeFixed32(buf)
		case num == fieldTimestamp && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(buf)
			e.Timestamp = time.Unix(0, int64(v))
		case num == fieldTransactionID && typ == protowire.BytesType:
			e.TransactionID, n = protowire.ConsumeString(buf)
		case num == fieldCodec && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(buf)
			codec = codecID(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}

		if n < 0 {
			return nil, errors.Wrap(ErrMalformedRecord, protowire.ParseError(n).Error())
		}
		buf = buf[n:]
	}

	if !seen {
		return nil, errors.Wrap(ErrMalformedRecord, "missing index")
	}

	c, err := codecFor(b.codec, codec)
	if err != nil {
		return nil, err
	}

	if e.Payload, err = c.decompress(payload); err != nil {
		return nil, err
	}
	e.Payload = emptyAsNil(e.Payload)

	if err := verify(&e); err != nil {
		return nil, err
	}

	return &e, nil
}
