package wal

import (
	"strata/storage"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// recover opens every segment in dir, rebuilds their offset indexes and the
// cursor, and cuts off a torn or corrupted tail of the newest segment.
// Corruption anywhere else, or segments that do not continue each other,
// fail the open.
func (w *Wal) recover() error {
	refs, err := Segments(w.dir)
	if err != nil {
		return err
	}

	for k, ref := range refs {
		if ref.index == 0 {
			return errors.Wrapf(ErrCorruptedSegment, "segment %s has no valid base index", ref.name)
		}

		if k > 0 {
			prev := w.segments[k-1]
			if expected := prev.LastIndex() + 1; ref.index != expected {
				return errors.Wrapf(ErrSegmentGap, "segment %d follows segment %d ending at %d, expected %d", ref.index, prev.Index(), prev.LastIndex(), expected)
			}
		}

		segment, err := OpenSegment(w.dir, ref.index)
		if err != nil {
			return err
		}
		w.segments = append(w.segments, segment)

		if err := w.replay(segment, k == len(refs)-1); err != nil {
			return err
		}
	}

	w.resetCursor()

	return nil
}

// replay scans segment from its first frame and tracks every good record.
// Only the newest segment may be repaired; a bad record in an older one
// would leave a hole in the log.
func (w *Wal) replay(segment *Segment, newest bool) error {
	r := segment.Reader()
	expected := segment.FirstIndex()

	corrupted := func(cause error) error {
		cerr := newCorruptionError(w.dir, segment.Index(), r.Offset(), cause)
		if !newest {
			return cerr
		}

		return w.repair(segment, cerr)
	}

	for r.Next() {
		e, err := w.encoder.Decode(r.Frame())
		if err != nil {
			return corrupted(err)
		}

		if e.Index != expected {
			return corrupted(errors.Errorf("unexpected index %d, expected %d", e.Index, expected))
		}

		if err := segment.TrackEntry(e.Index, r.Offset()); err != nil {
			return corrupted(err)
		}
		expected++
	}

	if err := r.Err(); err != nil {
		if !errors.Is(err, storage.ErrTruncatedFrame) {
			return err
		}

		return corrupted(err)
	}

	return nil
}

// repair truncates segment at the offset of cerr, the end of its last good
// record.
func (w *Wal) repair(segment *Segment, cerr *CorruptionError) error {
	level.Warn(w.logger).Log(
		"msg", "truncating corrupted segment tail",
		"segmentId", segment.Index(),
		"offset", cerr.Offset,
		"discarded", segment.Size()-cerr.Offset,
		"err", cerr,
	)

	w.metrics.corruptions.Inc()
	w.status.Store(int32(StatusCorrupted))
	w.corruption = cerr

	if err := segment.Truncate(cerr.Offset); err != nil {
		return err
	}

	return segment.Sync()
}
