package wal

import (
	"strata/config"
	"strata/storage"
	"testing"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testOptions() config.Options {
	opts := config.Defaults()
	opts.SegmentSize = 1 << 20 // 1MB
	opts.SyncAfterWrite = false
	return opts
}

func openWal(t *testing.T, dir string, opts config.Options) *Wal {
	t.Helper()

	w, err := Open(log.NewNopLogger(), prometheus.NewRegistry(), dir, opts)
	require.NoError(t, err)
	require.NotNil(t, w)

	return w
}

func newEntry() storage.Entry {
	return storage.Entry{
		Term:    1,
		Payload: []byte(faker.Sentence()),
	}
}

func appendN(t *testing.T, w *Wal, n int) []storage.Entry {
	t.Helper()

	written := make([]storage.Entry, 0, n)
	for i := 0; i < n; i++ {
		e := newEntry()
		e.Timestamp = time.Now()

		_, err := w.Append(e)
		require.NoError(t, err)

		written = append(written, e)
	}

	return written
}

func requireSameEntries(t *testing.T, expected, actual []*storage.Entry) {
	t.Helper()

	require.Equal(t, len(expected), len(actual))
	for i := range expected {
		assert.Equal(t, expected[i].Index, actual[i].Index)
		assert.Equal(t, expected[i].Term, actual[i].Term)
		assert.Equal(t, expected[i].Payload, actual[i].Payload)
		assert.Equal(t, expected[i].Checksum, actual[i].Checksum)
		assert.Equal(t, expected[i].TransactionID, actual[i].TransactionID)
		assert.True(t, expected[i].Timestamp.Equal(actual[i].Timestamp), "timestamp of %d", expected[i].Index)
	}
}

// failingFile fails every write after the first failAfter ones, leaving
// half of the failing write on disk.
type failingFile struct {
	segmentFile
	writes    int
	failAfter int
}

func (f *failingFile) WriteAt(p []byte, off int64) (int, error) {
	if f.writes >= f.failAfter {
		n, _ := f.segmentFile.WriteAt(p[:len(p)/2], off)
		return n, errors.New("injected write failure")
	}

	f.writes++
	return f.segmentFile.WriteAt(p, off)
}

// failingSyncFile fails every fsync.
type failingSyncFile struct {
	segmentFile
}

func (f *failingSyncFile) Sync() error {
	return errors.New("injected sync failure")
}

// swapFile replaces the file of the active segment and returns a func
// restoring it.
func swapFile(w *Wal, wrap func(segmentFile) segmentFile) func() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	segment := w.active()
	orig := segment.file
	segment.file = wrap(orig)

	return func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()
		segment.file = orig
	}
}

func injectWriteFailure(w *Wal, failAfter int) func() {
	return swapFile(w, func(f segmentFile) segmentFile {
		return &failingFile{segmentFile: f, failAfter: failAfter}
	})
}

func injectSyncFailure(w *Wal) func() {
	return swapFile(w, func(f segmentFile) segmentFile {
		return &failingSyncFile{segmentFile: f}
	})
}
