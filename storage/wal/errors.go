package wal

import (
	"fmt"
	"strata/config"

	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/tsdb/wlog"
)

var (
	ErrLogClosed             = errors.New("log closed")
	ErrIndexOutOfRange       = errors.New("index out of range")
	ErrSegmentNotFound       = errors.New("segment not found")
	ErrInvalidConfig         = config.ErrInvalidConfig
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrTransactionNotPending = errors.New("transaction not pending")
	ErrTransactionExpired    = errors.New("transaction expired")
	ErrTransactionTooLarge   = errors.New("transaction too large")
	ErrCorruptedSegment      = errors.New("corrupted segment")
	ErrSegmentGap            = errors.New("segment sequence has a gap")
	ErrIOFailure             = errors.New("io failure")
)

// IOError is returned for failed file operations. It matches ErrIOFailure
// and unwraps to the underlying error.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrIOFailure
}

func ioError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	return &IOError{Op: op, Path: path, Err: err}
}

// CorruptionError locates a corrupted record found during recovery. It
// matches ErrCorruptedSegment and unwraps to the decoding error.
type CorruptionError struct {
	*wlog.CorruptionErr
}

func newCorruptionError(dir string, segment uint64, offset int64, cause error) *CorruptionError {
	return &CorruptionError{&wlog.CorruptionErr{
		Dir:     dir,
		Segment: int(segment),
		Offset:  offset,
		Err:     cause,
	}}
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorruptedSegment
}
