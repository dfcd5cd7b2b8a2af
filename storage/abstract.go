package storage

import (
	"hash/crc32"
	"time"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Entry is a single record of the log. Index is its only identity.
type Entry struct {
	Index         uint64
	Term          uint64
	Payload       []byte
	Checksum      uint32
	Timestamp     time.Time
	TransactionID string
}

// Checksum returns the CRC-32 (Castagnoli) of payload.
func Checksum(payload []byte) uint32 {
	return crc32.Checksum(payload, castagnoliTable)
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}
