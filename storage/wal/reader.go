package wal

import (
	"io"

	"github.com/pkg/errors"
)

// Reader walks the frames of a segment in order.
type Reader struct {
	segment *Segment
	err     error
	frame   []byte
	offset  int64
	next    int64
}

func NewReader(segment *Segment) *Reader {
	return &Reader{segment: segment}
}

// Next advances to the next frame. It returns false at the end of the
// segment or on error, see Err.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}

	r.offset = r.next

	frame, next, err := r.segment.ReadAt(r.offset)
	if errors.Is(err, io.EOF) {
		r.frame = nil
		return false
	}

	if err != nil {
		r.frame = nil
		r.err = err
		return false
	}

	r.frame = frame
	r.next = next

	return true
}

// Frame returns the body of the current frame.
func (r *Reader) Frame() []byte {
	return r.frame
}

// Offset returns where the current frame starts, or where reading failed.
func (r *Reader) Offset() int64 {
	return r.offset
}

func (r *Reader) Err() error {
	return r.err
}

// Reset rewinds the reader to the start of the segment.
func (r *Reader) Reset() {
	r.err = nil
	r.frame = nil
	r.offset = 0
	r.next = 0
}
