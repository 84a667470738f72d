package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abihf/camrec/capture"
	"github.com/abihf/camrec/storage"
	"github.com/abihf/camrec/storage/storagetest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func frame(seq uint64) *capture.Frame {
	return &capture.Frame{
		Data:      []byte{byte(seq), byte(seq)},
		Width:     2,
		Height:    1,
		Format:    capture.FormatGrey,
		Timestamp: time.Now(),
		Seq:       seq,
	}
}

func TestPool_WritesEveryQueuedJob(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := &storagetest.Memory{}
	p := New(store, &Option{Workers: 4})
	p.Open()

	for i := 0; i < 100; i++ {
		require.NoError(t, p.TryWrite(fmt.Sprintf("f%03d", i), frame(uint64(i))))
	}
	p.Close()

	assert.Equal(t, 100, store.Len())
	assert.False(t, p.IsOpen())
	assert.Equal(t, 0, p.Pending())
}

func TestPool_SingleWorkerKeepsOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var paths []string
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Millisecond)
		paths = append(paths, filepath.Join(dir, ts.Format("150405.000000")+".raw"))
	}

	store := &storagetest.Memory{}
	p := New(store, &Option{Workers: 1})
	p.Open()
	for i, path := range paths {
		p.WriteImage(path, frame(uint64(i+1)))
	}
	p.Close()
	assert.Equal(t, paths, store.Paths())

	files := New(storage.NewFiles(), &Option{Workers: 1})
	files.Open()
	for i, path := range paths {
		files.WriteImage(path, frame(uint64(i+1)))
	}
	files.Close()
	for _, path := range paths {
		_, err := os.Stat(path)
		assert.NoError(t, err)
	}
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := &storagetest.Memory{}
	release := store.Hold()
	p := New(store, &Option{Workers: 2})
	p.Open()

	for i := 0; i < 10; i++ {
		require.NoError(t, p.TryWrite(fmt.Sprint(i), frame(uint64(i))))
	}

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the queue was drained")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, store.Len())

	release()
	<-closed
	assert.Equal(t, 10, store.Len())
}

func TestPool_Drops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("closed pool", func(t *testing.T) {
		store := &storagetest.Memory{}
		p := New(store, nil)

		assert.ErrorIs(t, p.TryWrite("a", frame(1)), ErrPoolClosed)
		p.WriteImage("b", frame(2))

		p.Open()
		p.Close()
		assert.ErrorIs(t, p.TryWrite("c", frame(3)), ErrPoolClosed)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("writing disabled", func(t *testing.T) {
		store := &storagetest.Memory{}
		p := New(store, nil)
		p.Open()

		p.EnableWrite(false)
		assert.False(t, p.WriteEnabled())
		for i := 0; i < 5; i++ {
			assert.ErrorIs(t, p.TryWrite(fmt.Sprint(i), frame(uint64(i))), ErrWriteDisabled)
		}

		p.EnableWrite(true)
		require.NoError(t, p.TryWrite("on", frame(9)))
		p.Close()
		assert.Equal(t, []string{"on"}, store.Paths())
	})

	t.Run("queue full", func(t *testing.T) {
		store := &storagetest.Memory{}
		release := store.Hold()
		p := New(store, &Option{Workers: 1, QueueSize: 2})
		p.Open()

		// one job held by the worker, two waiting
		require.NoError(t, p.TryWrite("0", frame(0)))
		require.Eventually(t, func() bool { return p.Pending() == 0 }, time.Second, time.Millisecond)
		require.NoError(t, p.TryWrite("1", frame(1)))
		require.NoError(t, p.TryWrite("2", frame(2)))
		assert.Equal(t, 2, p.Pending())
		assert.ErrorIs(t, p.TryWrite("3", frame(3)), ErrQueueFull)

		release()
		p.Close()
		assert.Equal(t, []string{"0", "1", "2"}, store.Paths())
	})
}

func TestPool_FailureDoesNotStopWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	errDisk := errors.New("disk full")
	store := &storagetest.Memory{
		Fail: func(path string) error {
			switch path {
			case "bad":
				return errDisk
			case "panic":
				panic("encoder bug")
			}
			return nil
		},
	}
	p := New(store, &Option{Workers: 1})
	p.Open()

	for _, path := range []string{"a", "bad", "b", "panic", "c"} {
		require.NoError(t, p.TryWrite(path, frame(0)))
	}
	p.Close()

	assert.Equal(t, []string{"a", "b", "c"}, store.Paths())
}

func TestPool_WriteSyncBypassesQueueAndGate(t *testing.T) {
	errDisk := errors.New("disk full")
	store := &storagetest.Memory{}
	p := New(store, nil)
	p.EnableWrite(false)

	require.NoError(t, p.WriteSync("sync", frame(1)))
	assert.Equal(t, []string{"sync"}, store.Paths())

	store.Fail = func(string) error { return errDisk }
	assert.ErrorIs(t, p.WriteSync("fail", frame(2)), errDisk)
}

// countingStore tracks how many writes run at once.
type countingStore struct {
	gate   chan struct{}
	active atomic.Int32
	mu     sync.Mutex
	peak   int32
}

func (s *countingStore) Write(string, *capture.Frame) error {
	n := s.active.Add(1)
	s.mu.Lock()
	if n > s.peak {
		s.peak = n
	}
	s.mu.Unlock()
	<-s.gate
	s.active.Add(-1)
	return nil
}

func TestPool_OpenIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := &countingStore{gate: make(chan struct{})}
	p := New(store, &Option{Workers: 2})
	p.Open()
	p.Open()
	p.Open()

	for i := 0; i < 8; i++ {
		require.NoError(t, p.TryWrite(fmt.Sprint(i), frame(uint64(i))))
	}
	require.Eventually(t, func() bool { return store.active.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	close(store.gate)
	p.Close()
	p.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, int32(2), store.peak)
}

func TestPool_ReopenAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := &storagetest.Memory{}
	p := New(store, nil)

	p.Open()
	require.NoError(t, p.TryWrite("first", frame(1)))
	p.Close()

	p.Open()
	require.NoError(t, p.TryWrite("second", frame(2)))
	p.Close()

	assert.Equal(t, []string{"first", "second"}, store.Paths())
}
