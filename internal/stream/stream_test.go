package stream

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

func TestCountingReaderFiresOnEOFOnce(t *testing.T) {
	data := bytes.NewReader([]byte("hello world"))
	var fired int
	var total int64
	r := NewCountingReader(nopCloser{data}, func(t int64) {
		fired++
		total = t
	})

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out))
	require.Equal(t, int64(11), r.BytesRead())

	// A second Read after EOF must not refire the callback.
	buf := make([]byte, 8)
	_, _ = r.Read(buf)

	require.Equal(t, 1, fired)
	require.Equal(t, int64(11), total)
}

func TestCountingReaderFiresOnCloseWithoutEOF(t *testing.T) {
	data := bytes.NewReader([]byte("hello world"))
	var fired int
	var total int64
	r := NewCountingReader(nopCloser{data}, func(t int64) {
		fired++
		total = t
	})

	buf := make([]byte, 5)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	require.NoError(t, r.Close())
	require.Equal(t, 1, fired)
	require.Equal(t, int64(5), total)

	// Closing again must not refire.
	require.NoError(t, r.Close())
	require.Equal(t, 1, fired)
}

func TestCountingWriterAccumulatesAndReportsProgress(t *testing.T) {
	var buf bytes.Buffer
	var lastProgress int64
	w := NewCountingWriter(&buf, func(written int64) { lastProgress = written })

	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	n, err = w.Write([]byte("de"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Equal(t, int64(5), w.BytesWritten())
	require.Equal(t, int64(5), lastProgress)
	require.Equal(t, "abcde", buf.String())
}

type rejectingLimiter struct{}

func (rejectingLimiter) WaitN(ctx context.Context, n int) error {
	return context.Canceled
}

func TestThrottledReaderPropagatesLimiterError(t *testing.T) {
	r := NewThrottledReader(context.Background(), nopCloser{bytes.NewReader([]byte("x"))}, rejectingLimiter{})
	buf := make([]byte, 1)
	_, err := r.Read(buf)
	require.ErrorIs(t, err, context.Canceled)
}

func TestThrottledReaderPassesThroughWithNilLimiter(t *testing.T) {
	r := NewThrottledReader(context.Background(), nopCloser{bytes.NewReader([]byte("ok"))}, nil)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "ok", string(out))
}

func TestThrottledWriterPropagatesLimiterError(t *testing.T) {
	var buf bytes.Buffer
	w := NewThrottledWriter(context.Background(), &buf, rejectingLimiter{})
	_, err := w.Write([]byte("x"))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, buf.Len())
}
