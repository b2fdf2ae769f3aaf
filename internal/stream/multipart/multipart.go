// Package multipart implements the chunked upload writer state machine used
// by drivers whose backend requires splitting large uploads into
// independently-acknowledged parts: bounded-channel backpressure feeding a
// background worker pool, with parts completed in part-number order.
package multipart

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nimbusgate/gateway/pkg/gwerrors"
	"github.com/nimbusgate/gateway/pkg/logging"
	"github.com/nimbusgate/gateway/pkg/retry"
)

// CompletedPart is one finished, acknowledged part.
type CompletedPart struct {
	Number int
	ETag   string
	Size   int64
}

// PartUploader is the backend-specific operation set a Writer drives. A
// driver implements this against its own SDK (e.g. S3's UploadPart /
// CompleteMultipartUpload).
type PartUploader interface {
	UploadPart(ctx context.Context, number int, data []byte) (etag string, err error)
	Complete(ctx context.Context, parts []CompletedPart) error
	Abort(ctx context.Context) error
	// CompleteEmpty creates a valid zero-length object via the driver's
	// small-file path. Called instead of Complete when Close flushed zero
	// parts, since a multipart completion with no parts is invalid against
	// most backends (e.g. S3 requires at least one part).
	CompleteEmpty(ctx context.Context) error
}

// state names the writer's position in its shutdown sequence: an open
// writer accepting Write calls transitions, on Close, through flushing its
// last partial buffer and then issuing the completion call before becoming
// Done. Concurrent Close calls after the first are no-ops; Writes after
// Close fail.
type state int32

const (
	stateOpen state = iota
	stateSendingRemainder
	stateSendingComplete
	stateDone
)

// Writer buffers Write calls into fixed-size parts, uploads each full part
// to a bounded pool of background workers, and on Close flushes the
// trailing partial part before completing the upload. Safe for a single
// writer goroutine; Abort may be called concurrently with Close.
type Writer struct {
	ctx      context.Context
	uploader PartUploader
	partSize int64
	log      *logging.Logger
	retryer  *retry.Retryer

	mu      sync.Mutex
	buf     []byte
	nextNum int

	jobs    chan job
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error

	parts   []CompletedPart
	partsMu sync.Mutex

	st int32 // atomic state
}

type job struct {
	number int
	data   []byte
}

// Config controls a Writer's chunking and concurrency.
type Config struct {
	PartSize       int64 // bytes per part; default 8 MiB
	MaxConcurrency int   // background upload workers; default 4
	QueueDepth     int   // bounded channel size; default 2x MaxConcurrency
}

// NewWriter creates a chunked upload writer against uploader.
func NewWriter(ctx context.Context, uploader PartUploader, cfg Config, log *logging.Logger) *Writer {
	if cfg.PartSize <= 0 {
		cfg.PartSize = 8 << 20
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.MaxConcurrency * 2
	}
	if log == nil {
		log = logging.New(logging.INFO, nil, logging.FormatText)
	}

	w := &Writer{
		ctx:      ctx,
		uploader: uploader,
		partSize: cfg.PartSize,
		log:      log.With("multipart", nil),
		retryer:  retry.New(retry.DefaultConfig()),
		jobs:     make(chan job, cfg.QueueDepth),
		nextNum:  1,
	}

	for i := 0; i < cfg.MaxConcurrency; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	return w
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for j := range w.jobs {
		var etag string
		err := w.retryer.Do(w.ctx, func(ctx context.Context) error {
			e, uploadErr := w.uploader.UploadPart(ctx, j.number, j.data)
			if uploadErr != nil {
				return gwerrors.Transient("multipart", fmt.Sprintf("part %d upload failed", j.number), uploadErr)
			}
			etag = e
			return nil
		})
		if err != nil {
			w.fail(err)
			continue
		}
		w.partsMu.Lock()
		w.parts = append(w.parts, CompletedPart{Number: j.number, ETag: etag, Size: int64(len(j.data))})
		w.partsMu.Unlock()
	}
}

func (w *Writer) fail(err error) {
	w.errOnce.Do(func() {
		w.err = err
		w.log.Error("part upload failed", map[string]interface{}{"error": err.Error()})
	})
}

// Write buffers p, dispatching full parts to the background worker pool.
// Blocks when the queue is full, providing backpressure to the caller
// applying bounded channel backpressure.
func (w *Writer) Write(p []byte) (int, error) {
	if state(atomic.LoadInt32(&w.st)) != stateOpen {
		return 0, gwerrors.Conflict("multipart", "write after close")
	}
	if w.err != nil {
		return 0, w.err
	}

	total := len(p)
	w.mu.Lock()
	w.buf = append(w.buf, p...)
	for int64(len(w.buf)) >= w.partSize {
		chunk := w.buf[:w.partSize]
		w.buf = append([]byte(nil), w.buf[w.partSize:]...)
		num := w.nextNum
		w.nextNum++
		w.mu.Unlock()

		select {
		case w.jobs <- job{number: num, data: chunk}:
		case <-w.ctx.Done():
			w.mu.Lock()
			w.mu.Unlock()
			return 0, w.ctx.Err()
		}
		w.mu.Lock()
	}
	w.mu.Unlock()

	return total, nil
}

// Close flushes any buffered remainder as the final part, waits for all
// parts to finish, and completes the multipart upload. Safe to call more
// than once; only the first call does work.
func (w *Writer) Close() error {
	if !atomic.CompareAndSwapInt32(&w.st, int32(stateOpen), int32(stateSendingRemainder)) {
		return nil
	}

	w.mu.Lock()
	remainder := w.buf
	w.buf = nil
	num := w.nextNum
	w.mu.Unlock()

	if len(remainder) > 0 {
		select {
		case w.jobs <- job{number: num, data: remainder}:
		case <-w.ctx.Done():
			close(w.jobs)
			w.wg.Wait()
			return w.ctx.Err()
		}
	}

	close(w.jobs)
	w.wg.Wait()

	atomic.StoreInt32(&w.st, int32(stateSendingComplete))

	if w.err != nil {
		_ = w.uploader.Abort(w.ctx)
		atomic.StoreInt32(&w.st, int32(stateDone))
		return w.err
	}

	w.partsMu.Lock()
	parts := append([]CompletedPart(nil), w.parts...)
	w.partsMu.Unlock()

	if len(parts) == 0 {
		err := w.uploader.CompleteEmpty(w.ctx)
		atomic.StoreInt32(&w.st, int32(stateDone))
		if err != nil {
			return gwerrors.Transient("multipart", "create empty object failed", err)
		}
		return nil
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })

	err := w.uploader.Complete(w.ctx, parts)
	atomic.StoreInt32(&w.st, int32(stateDone))
	if err != nil {
		return gwerrors.Transient("multipart", "complete upload failed", err)
	}
	return nil
}

// Abort discards the upload: drains pending jobs, issues the backend abort
// call, and marks the writer Done. Safe to call after Close or
// concurrently with a context cancellation.
func (w *Writer) Abort() error {
	prev := atomic.SwapInt32(&w.st, int32(stateDone))
	if state(prev) == stateDone {
		return nil
	}
	if state(prev) == stateOpen {
		close(w.jobs)
		w.wg.Wait()
	}
	return w.uploader.Abort(w.ctx)
}
