// Package local implements the Driver contract over a directory on the
// host filesystem, adapted from distribution/distribution's filesystem
// storage driver: every virtual path is joined under a fixed root and
// writes go through a temp-file-then-rename sequence for atomicity.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nimbusgate/gateway/internal/driver"
	"github.com/nimbusgate/gateway/pkg/gwerrors"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

var tempSeq int64

// nextTempSuffix produces a unique-enough suffix for scratch upload files
// without pulling in a UUID dependency: wall-clock nanoseconds plus a
// per-process counter.
func nextTempSuffix() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), atomic.AddInt64(&tempSeq, 1))
}

const driverName = "local"

func init() {
	driver.Register(driverName, factory{})
}

type factory struct{}

func (factory) Create(ctx context.Context, config map[string]interface{}) (driver.Driver, error) {
	root, _ := config["root_directory"].(string)
	if root == "" {
		return nil, gwerrors.Fatal("local", "root_directory is required", nil)
	}
	return New(root), nil
}

// Driver serves a subtree of the local filesystem rooted at Root.
type Driver struct {
	Root string
}

// New constructs a Driver rooted at root. root must already exist.
func New(root string) *Driver {
	return &Driver{Root: root}
}

func (d *Driver) Name() string { return driverName }

func (d *Driver) Capabilities() gwtypes.Capability {
	return gwtypes.Capability{
		CanRangeRead:        true,
		CanDirectLink:       false,
		CanConcurrentUpload: false,
		CanMultipartUpload:  false,
		CanServerSideCopy:   true,
	}
}

func (d *Driver) fullPath(p string) string {
	return filepath.Join(d.Root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
}

func (d *Driver) List(ctx context.Context, p string) ([]gwtypes.Entry, error) {
	entries, err := os.ReadDir(d.fullPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gwerrors.NotFound("local", p).WithCause(err)
		}
		return nil, gwerrors.Fatal("local", "list "+p, err)
	}

	out := make([]gwtypes.Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		modified := info.ModTime()
		out = append(out, gwtypes.Entry{
			Name:     e.Name(),
			Size:     info.Size(),
			IsDir:    e.IsDir(),
			Modified: &modified,
		})
	}
	return out, nil
}

func (d *Driver) OpenReader(ctx context.Context, p string, rng *driver.ByteRange) (driver.ReadCloser, error) {
	f, err := os.Open(d.fullPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gwerrors.NotFound("local", p).WithCause(err)
		}
		return nil, gwerrors.Fatal("local", "open "+p, err)
	}

	if rng == nil {
		return f, nil
	}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		f.Close()
		return nil, gwerrors.Fatal("local", "seek "+p, err)
	}
	if rng.End < 0 {
		return f, nil
	}
	return &limitedReadCloser{r: io.LimitReader(f, rng.End-rng.Start+1), c: f}, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error               { return l.c.Close() }

func (d *Driver) OpenWriter(ctx context.Context, p string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	full := d.fullPath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return nil, gwerrors.Fatal("local", "mkdir for "+p, err)
	}

	tempPath := fmt.Sprintf("%s.%s.tmp", full, nextTempSuffix())
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, gwerrors.Fatal("local", "create temp file for "+p, err)
	}

	return &writer{f: f, tempPath: tempPath, finalPath: full, progress: progress}, nil
}

type writer struct {
	f         *os.File
	tempPath  string
	finalPath string
	written   int64
	progress  driver.ProgressFunc
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.written += int64(n)
	if w.progress != nil {
		w.progress(w.written)
	}
	return n, err
}

func (w *writer) Close() error {
	if err := w.f.Close(); err != nil {
		os.Remove(w.tempPath)
		return gwerrors.Fatal("local", "close temp file", err)
	}
	if err := os.Rename(w.tempPath, w.finalPath); err != nil {
		os.Remove(w.tempPath)
		return gwerrors.Fatal("local", "rename into place", err)
	}
	return nil
}

func (w *writer) Abort() error {
	w.f.Close()
	return os.Remove(w.tempPath)
}

func (d *Driver) Delete(ctx context.Context, p string) error {
	if err := os.RemoveAll(d.fullPath(p)); err != nil {
		return gwerrors.Fatal("local", "delete "+p, err)
	}
	return nil
}

func (d *Driver) CreateDir(ctx context.Context, p string) error {
	if err := os.MkdirAll(d.fullPath(p), 0o777); err != nil {
		return gwerrors.Fatal("local", "create dir "+p, err)
	}
	return nil
}

func (d *Driver) Rename(ctx context.Context, p, newName string) error {
	dst := filepath.Join(filepath.Dir(d.fullPath(p)), newName)
	if err := os.Rename(d.fullPath(p), dst); err != nil {
		return gwerrors.Fatal("local", "rename "+p, err)
	}
	return nil
}

func (d *Driver) MoveItem(ctx context.Context, src, dst string) error {
	full := d.fullPath(dst)
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return gwerrors.Fatal("local", "mkdir for move dst "+dst, err)
	}
	if err := os.Rename(d.fullPath(src), full); err != nil {
		return gwerrors.Fatal("local", "move "+src+" to "+dst, err)
	}
	return nil
}

func (d *Driver) CopyItem(ctx context.Context, src, dst string) error {
	srcFile, err := os.Open(d.fullPath(src))
	if err != nil {
		return gwerrors.Fatal("local", "open copy source "+src, err)
	}
	defer srcFile.Close()

	full := d.fullPath(dst)
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return gwerrors.Fatal("local", "mkdir for copy dst "+dst, err)
	}
	dstFile, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return gwerrors.Fatal("local", "create copy dst "+dst, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return gwerrors.Fatal("local", "copy "+src+" to "+dst, err)
	}
	return nil
}

func (d *Driver) GetDirectLink(ctx context.Context, p string) (string, error) {
	return "", nil
}

func (d *Driver) GetSpaceInfo(ctx context.Context) (*gwtypes.SpaceInfo, error) {
	return nil, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(d.Root)
	if err != nil {
		return gwerrors.Fatal("local", "root directory unavailable", err)
	}
	if !info.IsDir() {
		return gwerrors.Fatal("local", "root is not a directory", nil)
	}
	return nil
}

var _ driver.Driver = (*Driver)(nil)
