package wal

import (
	"os"
	"sort"
	"strata/config"
	"strata/storage"
	"strata/storage/cache"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

type State int32

const (
	StateInitializing State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Status int32

const (
	StatusOK Status = iota
	StatusCorrupted
)

func (s Status) String() string {
	if s == StatusCorrupted {
		return "corrupted"
	}

	return "ok"
}

// Cursor is the range of live record indices. FirstIndex is 0 while the log
// holds no records; LastIndex is always the index of the last record ever
// appended and not truncated away.
type Cursor struct {
	FirstIndex uint64
	LastIndex  uint64
}

func (c Cursor) Empty() bool {
	return c.FirstIndex == 0
}

func (c Cursor) Contains(index uint64) bool {
	return !c.Empty() && index >= c.FirstIndex && index <= c.LastIndex
}

const (
	workQueueSize  = 100
	frameBufferCap = 4 << 10 // 4KB
)

// Wal is a segmented write-ahead log rooted at a single directory.
type Wal struct {
	logger  log.Logger
	dir     string
	opts    config.Options
	metrics *WalMetrics
	encoder storage.Encoder
	cache   cache.Cache
	buffers *storage.BytesPool
	txs     *transactions

	mutex    sync.RWMutex
	segments []*Segment // ascending; the last one is writable
	cursor   Cursor
	state    atomic.Int32
	status   atomic.Int32

	corruption *CorruptionError // tail repaired by recovery, if any

	workQueue chan func()
	stopc     chan chan struct{}
}

// Open recovers the log in dir, creating the directory and a first segment
// if needed.
func Open(logger log.Logger, registerer prometheus.Registerer, dir string, opts config.Options) (*Wal, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	encoder, err := storage.NewEncoder(opts.Format, opts.Compression)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.NewNopLogger()
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, ioError("mkdir", dir, err)
	}

	w := &Wal{
		logger:    log.With(logger, "component", "wal", "dir", dir),
		dir:       dir,
		opts:      opts,
		metrics:   NewWalMetrics(registerer),
		encoder:   encoder,
		buffers:   storage.NewBytesPool(frameBufferCap),
		workQueue: make(chan func(), workQueueSize),
		stopc:     make(chan chan struct{}),
	}
	w.state.Store(int32(StateInitializing))

	if err := w.recover(); err != nil {
		w.closeSegments()
		return nil, err
	}

	if len(w.segments) == 0 {
		segment, err := CreateSegment(dir, 1)
		if err != nil {
			return nil, err
		}

		w.segments = append(w.segments, segment)
	}

	if opts.CachedSegments > 0 {
		c, err := cache.New(int64(opts.CachedSegments) * opts.SegmentSize)
		if err != nil {
			w.closeSegments()
			return nil, err
		}
		w.cache = c
	} else {
		w.cache = cache.Nop{}
	}

	w.txs = newTransactions(w.logger, w.metrics, opts)

	go w.run()
	w.txs.start()

	w.metrics.setCursor(w.cursor, len(w.segments))
	w.state.Store(int32(StateOpen))

	level.Info(w.logger).Log(
		"msg", "log opened",
		"segments", len(w.segments),
		"firstIndex", w.cursor.FirstIndex,
		"lastIndex", w.cursor.LastIndex,
		"status", w.Status(),
	)

	return w, nil
}

func (w *Wal) State() State {
	return State(w.state.Load())
}

// Status reports whether recovery had to discard corrupted data.
func (w *Wal) Status() Status {
	return Status(w.status.Load())
}

// Corruption returns what recovery cut off the newest segment, or nil when
// the status is StatusOK.
func (w *Wal) Corruption() *CorruptionError {
	return w.corruption
}

func (w *Wal) Dir() string {
	return w.dir
}

func (w *Wal) Cursor() Cursor {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return w.cursor
}

func (w *Wal) FirstIndex() uint64 {
	return w.Cursor().FirstIndex
}

func (w *Wal) LastIndex() uint64 {
	return w.Cursor().LastIndex
}

// Segments returns the identifiers of the live segments, oldest first.
func (w *Wal) Segments() []uint64 {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	ids := make([]uint64, 0, len(w.segments))
	for _, s := range w.segments {
		ids = append(ids, s.Index())
	}

	return ids
}

// ResizeCache changes the read cache capacity to n segments worth of bytes.
func (w *Wal) ResizeCache(segments int) {
	w.cache.Resize(int64(segments) * w.opts.SegmentSize)
}

func (w *Wal) active() *Segment {
	return w.segments[len(w.segments)-1]
}

// Append writes e as the next record and returns the index assigned to it.
func (w *Wal) Append(e storage.Entry) (uint64, error) {
	indices, err := w.write([]storage.Entry{e})
	if err != nil {
		return 0, err
	}

	return indices[0], nil
}

// WriteBatch writes entries under contiguous indices. Either every entry is
// written or, on failure, none of them is visible.
func (w *Wal) WriteBatch(entries []storage.Entry) ([]uint64, error) {
	indices, err := w.write(entries)
	if err != nil {
		return nil, err
	}

	w.metrics.batches.Inc()

	return indices, nil
}

func (w *Wal) write(entries []storage.Entry) ([]uint64, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.State() != StateOpen {
		return nil, ErrLogClosed
	}

	if len(entries) == 0 {
		return nil, nil
	}

	buf := w.buffers.GetBytes()
	defer w.buffers.PutBytes(buf)

	var (
		next    = w.cursor.LastIndex + 1
		bounds  = make([]int, 0, len(entries)+1)
		indices = make([]uint64, 0, len(entries))
		now     = time.Now()
	)

	for k := range entries {
		e := entries[k]
		e.Index = next + uint64(k)
		e.Checksum = storage.Checksum(e.Payload)
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}

		body, err := w.encoder.Encode(&e)
		if err != nil {
			w.metrics.writesFailed.Inc()
			return nil, errors.Wrapf(err, "encode entry %d", e.Index)
		}

		bounds = append(bounds, len(*buf))
		*buf = storage.AppendFrame(*buf, body)
		indices = append(indices, e.Index)
	}
	bounds = append(bounds, len(*buf))

	if err := w.maybeRotate(int64(len(*buf)), next); err != nil {
		w.metrics.writesFailed.Inc()
		return nil, err
	}

	segment := w.active()
	before := segment.Size()
	offsets := make([]int64, 0, len(entries))

	for k := range entries {
		off, err := segment.Write((*buf)[bounds[k]:bounds[k+1]])
		if err != nil {
			return nil, w.rollback(segment, before, err)
		}

		offsets = append(offsets, off)
	}

	if w.opts.SyncAfterWrite {
		if err := w.fsync(segment); err != nil {
			return nil, w.rollback(segment, before, err)
		}
	}

	for k, off := range offsets {
		if err := segment.TrackEntry(indices[k], off); err != nil {
			return nil, w.rollback(segment, before, err)
		}
	}

	if w.cursor.Empty() {
		w.cursor.FirstIndex = next
	}
	w.cursor.LastIndex = indices[len(indices)-1]

	w.enforceRetention()

	w.metrics.appends.Add(float64(len(entries)))
	w.metrics.setCursor(w.cursor, len(w.segments))

	return indices, nil
}

// rollback cuts segment back to size so a failed write leaves no trace.
func (w *Wal) rollback(segment *Segment, size int64, cause error) error {
	w.metrics.writesFailed.Inc()

	if err := segment.Truncate(size); err != nil {
		level.Error(w.logger).Log("msg", "error rolling back failed write", "segment", segment.Index(), "err", err, "cause", cause)
		return errors.Wrapf(err, "rollback after %v", cause)
	}

	return cause
}

func (w *Wal) maybeRotate(n int64, next uint64) error {
	segment := w.active()

	if segment.Empty() || segment.Size()+n <= w.opts.SegmentSize {
		return nil
	}

	return w.nextSegment(next)
}

// nextSegment makes a new segment starting at index next the writable one.
// The previous segment is synced in the background.
func (w *Wal) nextSegment(next uint64) error {
	segment, err := CreateSegment(w.dir, next)
	if err != nil {
		return err
	}

	prev := w.active()
	w.segments = append(w.segments, segment)
	w.metrics.segmentRotations.Inc()

	level.Debug(w.logger).Log(
		"msg", "segment rotated",
		"previous", prev.Index(),
		"previousSize", humanize.IBytes(uint64(prev.Size())),
		"next", next,
	)

	w.workQueue <- func() {
		if err := w.fsync(prev); err != nil && !errors.Is(err, os.ErrClosed) {
			level.Error(w.logger).Log("msg", "error syncing previous segment", "err", err, "segmentId", prev.Index())
		}
	}

	return nil
}

// enforceRetention drops the oldest segments beyond MaxSegments and moves
// FirstIndex past them.
func (w *Wal) enforceRetention() {
	if w.opts.MaxSegments == 0 || len(w.segments) <= w.opts.MaxSegments {
		return
	}

	for len(w.segments) > w.opts.MaxSegments && len(w.segments) > 1 {
		oldest := w.segments[0]
		w.segments = w.segments[1:]
		w.metrics.segmentsEvicted.Inc()

		level.Info(w.logger).Log("msg", "evicting segment", "segmentId", oldest.Index(), "lastIndex", oldest.LastIndex())

		w.workQueue <- func() {
			if err := oldest.Remove(); err != nil {
				level.Error(w.logger).Log("msg", "error removing evicted segment", "err", err, "segmentId", oldest.Index())
			}
		}
	}

	w.resetCursor()
}

func (w *Wal) fsync(s *Segment) error {
	now := time.Now()
	err := s.Sync()

	w.metrics.fsyncDuration.Observe(time.Since(now).Seconds())

	return err
}

// Sync flushes the writable segment regardless of SyncAfterWrite.
func (w *Wal) Sync() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.State() != StateOpen {
		return ErrLogClosed
	}

	return w.fsync(w.active())
}

// Get returns the record at index.
func (w *Wal) Get(index uint64) (*storage.Entry, error) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	if w.State() != StateOpen {
		return nil, ErrLogClosed
	}

	if !w.cursor.Contains(index) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d not in [%d, %d]", index, w.cursor.FirstIndex, w.cursor.LastIndex)
	}

	return w.get(index)
}

// GetRange returns the records in [start, end]. Indices below FirstIndex
// have been evicted and are skipped.
func (w *Wal) GetRange(start, end uint64) ([]*storage.Entry, error) {
	if start > end {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "start %d after end %d", start, end)
	}

	w.mutex.RLock()
	defer w.mutex.RUnlock()

	if w.State() != StateOpen {
		return nil, ErrLogClosed
	}

	if end > w.cursor.LastIndex {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "end %d after last index %d", end, w.cursor.LastIndex)
	}

	if w.cursor.Empty() || end < w.cursor.FirstIndex {
		return []*storage.Entry{}, nil
	}

	if start < w.cursor.FirstIndex {
		start = w.cursor.FirstIndex
	}

	entries := make([]*storage.Entry, 0, end-start+1)
	for i := start; i <= end; i++ {
		e, err := w.get(i)
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	return entries, nil
}

func (w *Wal) get(index uint64) (*storage.Entry, error) {
	if e, ok := w.cache.Get(index); ok {
		w.metrics.cacheHits.Inc()
		return e, nil
	}
	w.metrics.cacheMisses.Inc()

	segment := w.segmentFor(index)
	if segment == nil {
		return nil, errors.Wrapf(ErrSegmentNotFound, "index %d", index)
	}

	body, err := segment.EntryByIndex(index)
	if err != nil {
		return nil, err
	}

	e, err := w.encoder.Decode(body)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptedSegment, "segment %d index %d: %v", segment.Index(), index, err)
	}

	if e.Index != index {
		return nil, errors.Wrapf(ErrCorruptedSegment, "segment %d: expected index %d, found %d", segment.Index(), index, e.Index)
	}

	w.cache.Put(e)

	return e, nil
}

func (w *Wal) segmentFor(index uint64) *Segment {
	k := sort.Search(len(w.segments), func(k int) bool {
		return w.segments[k].LastIndex()+1 > index
	})

	if k == len(w.segments) || !w.segments[k].Contains(index) {
		return nil
	}

	return w.segments[k]
}

// Truncate drops every record after index, so the next append gets
// index+1. index may range from FirstIndex-1 to LastIndex.
func (w *Wal) Truncate(index uint64) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.State() != StateOpen {
		return ErrLogClosed
	}

	if index > w.cursor.LastIndex {
		return errors.Wrapf(ErrIndexOutOfRange, "truncate to %d after last index %d", index, w.cursor.LastIndex)
	}

	if index == w.cursor.LastIndex {
		return nil
	}

	if w.cursor.Empty() || index+1 < w.cursor.FirstIndex {
		return errors.Wrapf(ErrIndexOutOfRange, "truncate to %d before first index %d", index, w.cursor.FirstIndex)
	}

	// Whatever happens below, the cursor follows what the segments hold.
	defer func() {
		w.resetCursor()
		w.cache.Purge()
		w.metrics.setCursor(w.cursor, len(w.segments))
	}()

	for len(w.segments) > 1 && w.active().FirstIndex() > index {
		segment := w.active()

		if err := segment.Remove(); err != nil {
			return err
		}
		w.segments = w.segments[:len(w.segments)-1]
	}

	segment := w.active()

	off, err := segment.OffsetOf(index + 1)
	if err != nil {
		return err
	}

	if err := segment.Truncate(off); err != nil {
		return err
	}

	if err := w.fsync(segment); err != nil {
		return err
	}

	w.metrics.truncations.Inc()

	level.Info(w.logger).Log("msg", "log truncated", "lastIndex", index, "segments", len(w.segments))

	return nil
}

// resetCursor derives the cursor from the live segments.
func (w *Wal) resetCursor() {
	w.cursor = Cursor{}
	if len(w.segments) == 0 {
		return
	}

	for _, s := range w.segments {
		if !s.Empty() {
			w.cursor.FirstIndex = s.FirstIndex()
			break
		}
	}

	w.cursor.LastIndex = w.active().LastIndex()
}

func (w *Wal) run() {
Loop:
	for {
		select {
		case f := <-w.workQueue:
			f()
		case donec := <-w.stopc:
			close(w.workQueue)
			defer close(donec)
			break Loop
		}
	}

	for f := range w.workQueue {
		f()
	}
}

// Close aborts pending transactions, syncs and closes every segment.
// Closing a closed log is a no-op.
func (w *Wal) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.State() != StateOpen {
		return nil
	}
	w.state.Store(int32(StateClosed))

	w.txs.stop()

	donec := make(chan struct{})
	w.stopc <- donec
	<-donec

	var g errgroup.Group
	for _, s := range w.segments {
		s := s
		g.Go(func() error {
			if err := w.fsync(s); err != nil {
				s.Close()
				return err
			}

			return s.Close()
		})
	}

	err := g.Wait()
	if err != nil {
		level.Error(w.logger).Log("msg", "error closing segments", "err", err)
	}

	w.cache.Close()

	level.Info(w.logger).Log("msg", "log closed", "lastIndex", w.cursor.LastIndex)

	return err
}

// closeSegments releases segments opened by a failed Open.
func (w *Wal) closeSegments() {
	for _, s := range w.segments {
		if err := s.Close(); err != nil {
			level.Warn(w.logger).Log("msg", "error closing segment", "segmentId", s.Index(), "err", err)
		}
	}

	w.segments = nil
}
