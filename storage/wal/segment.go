package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strata/storage"
	"strconv"

	"github.com/pkg/errors"
)

const segmentExtension = ".wal"

// segmentFile is the part of *os.File a segment relies on.
type segmentFile interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Close() error
}

// Segment is one file of the log. Its identifier i is the index of the first
// record it holds, so an empty segment still knows where the log continues.
type Segment struct {
	file    segmentFile
	dir     string
	i       uint64
	size    int64
	offsets []int64 // offsets[k] is the byte offset of record i+k
}

type SegmentRef struct {
	name  string
	index uint64
}

func CreateSegment(dir string, i uint64) (*Segment, error) {
	return openSegment(dir, i, os.O_RDWR|os.O_CREATE|os.O_EXCL)
}

func OpenSegment(dir string, i uint64) (*Segment, error) {
	return openSegment(dir, i, os.O_RDWR)
}

func openSegment(dir string, i uint64, flag int) (*Segment, error) {
	name := SegmentName(dir, i)

	f, err := os.OpenFile(name, flag, 0o640)
	if err != nil {
		return nil, ioError("open", name, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioError("stat", name, err)
	}

	return &Segment{
		file: f,
		dir:  dir,
		i:    i,
		size: stat.Size(),
	}, nil
}

func SegmentName(dir string, i uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", i, segmentExtension))
}

// Segments lists the segment files of dir in chronological order. Files
// whose name is not a segment id are ignored.
func Segments(dir string) ([]SegmentRef, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, ioError("read dir", dir, err)
	}

	refs := make([]SegmentRef, 0, len(files))

	for _, f := range files {
		name := f.Name()
		if f.IsDir() || filepath.Ext(name) != segmentExtension {
			continue
		}

		i, err := strconv.ParseUint(storage.FileNameWithoutExtension(name), 10, 64)
		if err != nil {
			continue
		}

		refs = append(refs, SegmentRef{name: name, index: i})
	}

	sort.Slice(refs, func(i, j int) bool {
		return refs[i].index < refs[j].index
	})

	return refs, nil
}

func (s *Segment) Name() string {
	return SegmentName(s.dir, s.i)
}

// Index returns the segment identifier.
func (s *Segment) Index() uint64 {
	return s.i
}

func (s *Segment) Size() int64 {
	return s.size
}

func (s *Segment) Empty() bool {
	return len(s.offsets) == 0
}

func (s *Segment) FirstIndex() uint64 {
	return s.i
}

// LastIndex returns the index of the last tracked record, or FirstIndex()-1
// when the segment is empty.
func (s *Segment) LastIndex() uint64 {
	return s.i + uint64(len(s.offsets)) - 1
}

func (s *Segment) Contains(index uint64) bool {
	return index >= s.i && index-s.i < uint64(len(s.offsets))
}

// Write appends frame at the end of the segment and returns the offset it
// was written at. On failure the file is cut back to its previous size.
func (s *Segment) Write(frame []byte) (int64, error) {
	off := s.size

	n, err := s.file.WriteAt(frame, off)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}

	if err != nil {
		if terr := s.file.Truncate(off); terr != nil {
			return 0, ioError("truncate", s.Name(), errors.Wrapf(terr, "after failed write: %v", err))
		}

		return 0, ioError("write", s.Name(), err)
	}

	s.size += int64(n)

	return off, nil
}

// ReadAt reads the frame starting at offset and returns its body and the
// offset of the following frame. io.EOF marks the clean end of the segment.
func (s *Segment) ReadAt(offset int64) ([]byte, int64, error) {
	if offset >= s.size {
		return nil, offset, io.EOF
	}

	remaining := s.size - offset
	if remaining < storage.FrameHeaderSize {
		return nil, offset, errors.Wrapf(storage.ErrTruncatedFrame, "segment %d offset %d", s.i, offset)
	}

	var hdr [storage.FrameHeaderSize]byte
	if _, err := s.file.ReadAt(hdr[:], offset); err != nil {
		return nil, offset, ioError("read", s.Name(), err)
	}

	n, err := storage.FrameLen(hdr[:])
	if err != nil {
		return nil, offset, err
	}

	if int64(n) > remaining-storage.FrameHeaderSize {
		return nil, offset, errors.Wrapf(storage.ErrTruncatedFrame, "segment %d offset %d: frame of %d bytes exceeds segment", s.i, offset, n)
	}

	body := make([]byte, n)
	if _, err := s.file.ReadAt(body, offset+storage.FrameHeaderSize); err != nil {
		return nil, offset, ioError("read", s.Name(), err)
	}

	return body, offset + storage.FrameHeaderSize + int64(n), nil
}

// Reader scans the segment from its first frame.
func (s *Segment) Reader() *Reader {
	return NewReader(s)
}

// TrackEntry records that index was written at offset.
func (s *Segment) TrackEntry(index uint64, offset int64) error {
	if next := s.i + uint64(len(s.offsets)); index != next {
		return errors.Errorf("segment %d: tracking index %d, expected %d", s.i, index, next)
	}

	s.offsets = append(s.offsets, offset)
	return nil
}

// OffsetOf returns the byte offset of index. The index one past the last
// record maps to the end of the segment.
func (s *Segment) OffsetOf(index uint64) (int64, error) {
	switch {
	case s.Contains(index):
		return s.offsets[index-s.i], nil
	case index == s.i+uint64(len(s.offsets)):
		return s.size, nil
	default:
		return 0, errors.Wrapf(ErrIndexOutOfRange, "index %d not in segment %d", index, s.i)
	}
}

func (s *Segment) EntryByIndex(index uint64) ([]byte, error) {
	if !s.Contains(index) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d not in segment %d", index, s.i)
	}

	body, _, err := s.ReadAt(s.offsets[index-s.i])
	return body, err
}

// Truncate discards everything from offset on.
func (s *Segment) Truncate(offset int64) error {
	if err := s.file.Truncate(offset); err != nil {
		return ioError("truncate", s.Name(), err)
	}

	s.size = offset

	k := len(s.offsets)
	for k > 0 && s.offsets[k-1] >= offset {
		k--
	}
	s.offsets = s.offsets[:k]

	return nil
}

func (s *Segment) Sync() error {
	return ioError("sync", s.Name(), s.file.Sync())
}

func (s *Segment) Close() error {
	return ioError("close", s.Name(), s.file.Close())
}

// Remove deletes the segment file and closes it. The segment stays usable
// when the file cannot be deleted.
func (s *Segment) Remove() error {
	if err := os.Remove(s.Name()); err != nil {
		return ioError("remove", s.Name(), err)
	}

	if err := s.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}

	return nil
}
