// Package inmemory is a map-backed Driver, adapted from
// distribution/distribution's inmemory storage driver for use as a test
// double and a reference implementation to exercise the Driver contract
// without any real backend.
package inmemory

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nimbusgate/gateway/internal/driver"
	"github.com/nimbusgate/gateway/pkg/gwerrors"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

const driverName = "inmemory"

func init() {
	driver.Register(driverName, factory{})
}

type factory struct{}

func (factory) Create(ctx context.Context, config map[string]interface{}) (driver.Driver, error) {
	return New(), nil
}

type object struct {
	data     []byte
	modified time.Time
	isDir    bool
}

// Driver is an entirely in-memory Driver implementation, one map keyed by
// canonical path. Intended for tests and local experimentation.
type Driver struct {
	mu      sync.RWMutex
	objects map[string]*object
}

// New constructs an empty Driver with just the root directory.
func New() *Driver {
	return &Driver{
		objects: map[string]*object{
			"/": {isDir: true, modified: time.Now()},
		},
	}
}

func (d *Driver) Name() string { return driverName }

func (d *Driver) Capabilities() gwtypes.Capability {
	return gwtypes.Capability{
		CanRangeRead:        true,
		CanDirectLink:       false,
		CanConcurrentUpload: true,
		CanMultipartUpload:  false,
		CanServerSideCopy:   true,
	}
}

func normalize(p string) string {
	p = path.Clean("/" + p)
	return p
}

func (d *Driver) List(ctx context.Context, p string) ([]gwtypes.Entry, error) {
	p = normalize(p)

	d.mu.RLock()
	defer d.mu.RUnlock()

	parent, ok := d.objects[p]
	if !ok || !parent.isDir {
		return nil, gwerrors.NotFound("inmemory", p)
	}

	prefix := p
	if prefix != "/" {
		prefix += "/"
	}

	seen := make(map[string]gwtypes.Entry)
	for candidate, obj := range d.objects {
		if candidate == p || !strings.HasPrefix(candidate, prefix) {
			continue
		}
		rest := strings.TrimPrefix(candidate, prefix)
		name := rest
		isDir := obj.isDir
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name = rest[:idx]
			isDir = true
		}
		if _, already := seen[name]; already {
			continue
		}
		modified := obj.modified
		size := int64(len(obj.data))
		if isDir && name != rest {
			size = 0
		}
		seen[name] = gwtypes.Entry{Name: name, Size: size, IsDir: isDir, Modified: &modified}
	}

	out := make([]gwtypes.Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *Driver) OpenReader(ctx context.Context, p string, rng *driver.ByteRange) (driver.ReadCloser, error) {
	p = normalize(p)

	d.mu.RLock()
	obj, ok := d.objects[p]
	d.mu.RUnlock()
	if !ok || obj.isDir {
		return nil, gwerrors.NotFound("inmemory", p)
	}

	data := obj.data
	if rng != nil {
		start := rng.Start
		if start > int64(len(data)) {
			start = int64(len(data))
		}
		end := int64(len(data))
		if rng.End >= 0 && rng.End+1 < end {
			end = rng.End + 1
		}
		data = data[start:end]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (d *Driver) OpenWriter(ctx context.Context, p string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	p = normalize(p)
	return &writer{d: d, path: p, progress: progress}, nil
}

type writer struct {
	d        *Driver
	path     string
	buf      bytes.Buffer
	progress driver.ProgressFunc
	aborted  bool
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if w.progress != nil {
		w.progress(int64(w.buf.Len()))
	}
	return n, err
}

func (w *writer) Close() error {
	if w.aborted {
		return gwerrors.Conflict("inmemory", "write after abort")
	}
	w.d.ensureParents(w.path)

	w.d.mu.Lock()
	defer w.d.mu.Unlock()
	w.d.objects[w.path] = &object{data: append([]byte(nil), w.buf.Bytes()...), modified: time.Now()}
	return nil
}

func (w *writer) Abort() error {
	w.aborted = true
	return nil
}

// ensureParents creates directory entries for every ancestor of p, mirroring
// what a real hierarchical backend does implicitly.
func (d *Driver) ensureParents(p string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := path.Dir(p)
	for dir != "/" && dir != "." {
		if _, ok := d.objects[dir]; !ok {
			d.objects[dir] = &object{isDir: true, modified: time.Now()}
		}
		dir = path.Dir(dir)
	}
	if _, ok := d.objects["/"]; !ok {
		d.objects["/"] = &object{isDir: true, modified: time.Now()}
	}
}

func (d *Driver) Delete(ctx context.Context, p string) error {
	p = normalize(p)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.objects[p]; !ok {
		return gwerrors.NotFound("inmemory", p)
	}
	prefix := p + "/"
	for candidate := range d.objects {
		if candidate == p || strings.HasPrefix(candidate, prefix) {
			delete(d.objects, candidate)
		}
	}
	return nil
}

func (d *Driver) CreateDir(ctx context.Context, p string) error {
	p = normalize(p)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[p]; !ok {
		d.objects[p] = &object{isDir: true, modified: time.Now()}
	}
	return nil
}

func (d *Driver) Rename(ctx context.Context, p, newName string) error {
	p = normalize(p)
	dst := path.Join(path.Dir(p), newName)
	return d.MoveItem(ctx, p, dst)
}

func (d *Driver) MoveItem(ctx context.Context, src, dst string) error {
	src = normalize(src)
	dst = normalize(dst)

	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[src]
	if !ok {
		return gwerrors.NotFound("inmemory", src)
	}
	delete(d.objects, src)
	d.objects[dst] = obj
	return nil
}

func (d *Driver) CopyItem(ctx context.Context, src, dst string) error {
	src = normalize(src)
	dst = normalize(dst)

	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[src]
	if !ok {
		return gwerrors.NotFound("inmemory", src)
	}
	copied := *obj
	copied.data = append([]byte(nil), obj.data...)
	copied.modified = time.Now()
	d.objects[dst] = &copied
	return nil
}

func (d *Driver) GetDirectLink(ctx context.Context, p string) (string, error) {
	return "", nil
}

func (d *Driver) GetSpaceInfo(ctx context.Context) (*gwtypes.SpaceInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var used int64
	for _, obj := range d.objects {
		if !obj.isDir {
			used += int64(len(obj.data))
		}
	}
	return &gwtypes.SpaceInfo{Used: used}, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	return nil
}

var _ driver.Driver = (*Driver)(nil)
