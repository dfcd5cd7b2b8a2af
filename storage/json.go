package storage

import (
	"encoding/json"
	"strata/config"
	"time"

	"github.com/pkg/errors"
)

type jsonRecord struct {
	Index         uint64    `json:"index"`
	Term          uint64    `json:"term"`
	Payload       []byte    `json:"payload"`
	Checksum      uint32    `json:"checksum"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Codec         codecID   `json:"codec,omitempty"`
}

// JSONEncoder is the human-readable encoding. Payloads are base64 strings.
type JSONEncoder struct {
	codec codec
}

func (j *JSONEncoder) Format() config.Format {
	return config.FormatJSON
}

func (j *JSONEncoder) Encode(e *Entry) ([]byte, error) {
	b, err := json.Marshal(jsonRecord{
		Index:         e.Index,
		Term:          e.Term,
		Payload:       j.codec.compress(e.Payload),
		Checksum:      e.Checksum,
		Timestamp:     e.Timestamp,
		TransactionID: e.TransactionID,
		Codec:         j.codec.id(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "encode entry %d", e.Index)
	}

	return b, nil
}

func (j *JSONEncoder) Decode(b []byte) (*Entry, error) {
	var rec jsonRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, errors.Wrap(ErrMalformedRecord, err.Error())
	}

	c, err := codecFor(j.codec, rec.Codec)
	if err != nil {
		return nil, err
	}

	payload, err := c.decompress(rec.Payload)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		Index:         rec.Index,
		Term:          rec.Term,
		Payload:       emptyAsNil(payload),
		Checksum:      rec.Checksum,
		Timestamp:     rec.Timestamp,
		TransactionID: rec.TransactionID,
	}

	if err := verify(e); err != nil {
		return nil, err
	}

	return e, nil
}
