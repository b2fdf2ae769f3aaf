// Package stream provides the byte-stream wrappers the traffic governor and
// drivers compose around raw driver streams: bandwidth throttling and byte
// counting.
package stream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Limiter is satisfied by the governor's token bucket; kept as an interface
// here so this package doesn't import internal/governor.
type Limiter interface {
	// WaitN blocks until n bytes' worth of budget is available, or ctx is
	// done.
	WaitN(ctx context.Context, n int) error
}

// ThrottledReader wraps an io.ReadCloser, consulting a Limiter before each
// read so aggregate throughput stays under the configured cap.
type ThrottledReader struct {
	ctx     context.Context
	r       io.ReadCloser
	limiter Limiter
}

// NewThrottledReader wraps r. limiter may be nil, in which case reads pass
// through unthrottled.
func NewThrottledReader(ctx context.Context, r io.ReadCloser, limiter Limiter) *ThrottledReader {
	return &ThrottledReader{ctx: ctx, r: r, limiter: limiter}
}

func (t *ThrottledReader) Read(p []byte) (int, error) {
	if t.limiter != nil {
		if err := t.limiter.WaitN(t.ctx, len(p)); err != nil {
			return 0, err
		}
	}
	return t.r.Read(p)
}

// Close closes the wrapped reader.
func (t *ThrottledReader) Close() error { return t.r.Close() }

// CountingReader wraps an io.ReadCloser and atomically accumulates bytes
// read, for the governor's per-session traffic accounting. Go has no
// destructor to hang a "stream dropped" hook on, so Close is the stand-in:
// onDone fires exactly once, on whichever of EOF-during-Read or Close comes
// first, covering both a clean finish and a client disconnecting early.
type CountingReader struct {
	r      io.ReadCloser
	count  int64
	onDone func(total int64)
	once   sync.Once
}

// NewCountingReader wraps r. onDone, if non-nil, fires exactly once with the
// cumulative byte count, either when Read first returns io.EOF or when
// Close is called, whichever happens first.
func NewCountingReader(r io.ReadCloser, onDone func(total int64)) *CountingReader {
	return &CountingReader{r: r, onDone: onDone}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		atomic.AddInt64(&c.count, int64(n))
	}
	if err == io.EOF {
		c.fireOnDone()
	}
	return n, err
}

// Close closes the wrapped reader and fires onDone if Read never reached EOF
// (an early client disconnect, a cancelled request).
func (c *CountingReader) Close() error {
	c.fireOnDone()
	return c.r.Close()
}

func (c *CountingReader) fireOnDone() {
	if c.onDone == nil {
		return
	}
	c.once.Do(func() {
		c.onDone(atomic.LoadInt64(&c.count))
	})
}

// BytesRead returns the cumulative count so far.
func (c *CountingReader) BytesRead() int64 { return atomic.LoadInt64(&c.count) }

// ThrottledWriter wraps an io.Writer, consulting a Limiter before each
// write, for upload-side shaping.
type ThrottledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter Limiter
}

// NewThrottledWriter wraps w. limiter may be nil.
func NewThrottledWriter(ctx context.Context, w io.Writer, limiter Limiter) *ThrottledWriter {
	return &ThrottledWriter{ctx: ctx, w: w, limiter: limiter}
}

func (t *ThrottledWriter) Write(p []byte) (int, error) {
	if t.limiter != nil {
		if err := t.limiter.WaitN(t.ctx, len(p)); err != nil {
			return 0, err
		}
	}
	return t.w.Write(p)
}

// CountingWriter wraps an io.Writer and atomically accumulates bytes
// written, used to track upload progress and for ProgressFunc callbacks.
type CountingWriter struct {
	w        io.Writer
	count    int64
	progress func(written int64)
}

// NewCountingWriter wraps w. progress may be nil.
func NewCountingWriter(w io.Writer, progress func(written int64)) *CountingWriter {
	return &CountingWriter{w: w, progress: progress}
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		total := atomic.AddInt64(&c.count, int64(n))
		if c.progress != nil {
			c.progress(total)
		}
	}
	return n, err
}

// BytesWritten returns the cumulative count so far.
func (c *CountingWriter) BytesWritten() int64 { return atomic.LoadInt64(&c.count) }
