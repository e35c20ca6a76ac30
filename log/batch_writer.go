package log

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// BatchWriter buffers writes to an underlying writer and flushes them when
// the buffer reaches batchSize bytes or every flushInterval.
type BatchWriter struct {
	w             io.Writer
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buf    []byte
	closed atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup

	writes  atomic.Int64
	flushes atomic.Int64
	errs    atomic.Int64
}

// NewBatchWriter starts a batch writer over w. A non-positive
// flushInterval disables timed flushing.
func NewBatchWriter(w io.Writer, batchSize int, flushInterval time.Duration) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 4096
	}
	bw := &BatchWriter{
		w:             w,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buf:           make([]byte, 0, batchSize),
		stop:          make(chan struct{}),
	}
	if flushInterval > 0 {
		bw.wg.Add(1)
		go bw.flushLoop()
	}
	return bw
}

// Write implements io.Writer. Log entries are never split: an entry larger
// than the batch size flushes the buffer and is written through.
func (bw *BatchWriter) Write(p []byte) (int, error) {
	if bw.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	bw.writes.Add(1)

	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(p) >= bw.batchSize {
		if err := bw.flushLocked(); err != nil {
			return 0, err
		}
		n, err := bw.w.Write(p)
		if err != nil {
			bw.errs.Add(1)
		}
		return n, err
	}
	if len(bw.buf)+len(p) > bw.batchSize {
		if err := bw.flushLocked(); err != nil {
			return 0, err
		}
	}
	bw.buf = append(bw.buf, p...)
	return len(p), nil
}

func (bw *BatchWriter) flushLocked() error {
	if len(bw.buf) == 0 {
		return nil
	}
	_, err := bw.w.Write(bw.buf)
	bw.buf = bw.buf[:0]
	bw.flushes.Add(1)
	if err != nil {
		bw.errs.Add(1)
	}
	return err
}

// Flush writes out whatever is buffered.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked()
}

func (bw *BatchWriter) flushLoop() {
	defer bw.wg.Done()
	t := time.NewTicker(bw.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = bw.Flush()
		case <-bw.stop:
			return
		}
	}
}

// Close stops timed flushing and flushes the buffer. It does not close the
// underlying writer.
func (bw *BatchWriter) Close() error {
	if !bw.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(bw.stop)
	bw.wg.Wait()
	return bw.Flush()
}

// Stats returns the number of writes, flushes and failed writes so far.
func (bw *BatchWriter) Stats() (writes, flushes, errs int64) {
	return bw.writes.Load(), bw.flushes.Load(), bw.errs.Load()
}
