// Package copier implements mirror-mode tree copy/sync: recurse
// the source tree, skip files already identical by size at the
// destination, delete destination entries no longer present at the
// source, and tolerate per-file failures, using the same conc/multierr
// fan-out idiom used elsewhere in this module.
package copier

import (
	"context"
	"io"
	"path"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/nimbusgate/gateway/internal/driver"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
	"github.com/nimbusgate/gateway/pkg/logging"
)

// Config controls copy concurrency and mirror semantics.
type Config struct {
	MaxConcurrency  int  // bounded fan-out across subdirectories; default 4
	Mirror          bool // delete destination entries absent at the source
	OverwriteExisting bool // re-copy files that already match by size
}

// Copier copies a tree from one driver/path to another, possibly the same
// driver.
type Copier struct {
	src driver.Driver
	dst driver.Driver
	cfg Config
	log *logging.Logger
}

// New creates a Copier from src to dst.
func New(src, dst driver.Driver, cfg Config, log *logging.Logger) *Copier {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if log == nil {
		log = logging.New(logging.INFO, nil, logging.FormatText)
	}
	return &Copier{src: src, dst: dst, cfg: cfg, log: log.With("copier", nil)}
}

// Result summarizes one copy run.
type Result struct {
	FilesCopied  int
	FilesSkipped int
	FilesDeleted int
	DirsCreated  int
	BytesCopied  int64
	Errors       error
}

type counters struct {
	filesCopied  int64
	filesSkipped int64
	filesDeleted int64
	dirsCreated  int64
	bytesCopied  int64
	errMu        sync.Mutex
	err          error
}

func (c *counters) addErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.err = multierr.Append(c.err, err)
}

// CopyTree mirrors srcPath on the source driver into dstPath on the
// destination driver. If srcPath names a file rather than a directory, a
// single file is copied (skipped if the destination already has a same-size
// file at dstPath); otherwise the whole subtree is mirrored recursively.
func (c *Copier) CopyTree(ctx context.Context, srcPath, dstPath string) (*Result, error) {
	counts := &counters{}

	if isFile, size, ok := c.statSrc(ctx, srcPath); ok && isFile {
		if dstSize, exists := c.statDstSize(ctx, dstPath); !exists || dstSize != size || c.cfg.OverwriteExisting {
			if err := c.copyFile(ctx, srcPath, dstPath, size); err != nil {
				counts.addErr(err)
			} else {
				counts.filesCopied = 1
				counts.bytesCopied = size
			}
		} else {
			counts.filesSkipped = 1
		}
		return &Result{
			FilesCopied:  int(counts.filesCopied),
			FilesSkipped: int(counts.filesSkipped),
			BytesCopied:  counts.bytesCopied,
			Errors:       counts.err,
		}, nil
	}

	p := pool.New().WithMaxGoroutines(c.cfg.MaxConcurrency).WithContext(ctx)
	c.walk(ctx, p, srcPath, dstPath, counts)

	if err := p.Wait(); err != nil {
		counts.addErr(err)
	}

	return &Result{
		FilesCopied:  int(atomic.LoadInt64(&counts.filesCopied)),
		FilesSkipped: int(atomic.LoadInt64(&counts.filesSkipped)),
		FilesDeleted: int(atomic.LoadInt64(&counts.filesDeleted)),
		DirsCreated:  int(atomic.LoadInt64(&counts.dirsCreated)),
		BytesCopied:  atomic.LoadInt64(&counts.bytesCopied),
		Errors:       counts.err,
	}, nil
}

func (c *Copier) walk(ctx context.Context, p *pool.ContextPool, srcPath, dstPath string, counts *counters) {
	p.Go(func(ctx context.Context) error {
		srcEntries, err := c.src.List(ctx, srcPath)
		if err != nil {
			counts.addErr(err)
			return nil
		}

		dstEntries, listErr := c.dst.List(ctx, dstPath)
		if listErr != nil {
			if err := c.dst.CreateDir(ctx, dstPath); err != nil {
				counts.addErr(err)
				c.log.Warn("create dir failed, skipping subtree", map[string]interface{}{"path": dstPath, "error": err.Error()})
				return nil
			}
			atomic.AddInt64(&counts.dirsCreated, 1)
			dstEntries = nil
		}

		srcByName := make(map[string]gwtypes.Entry, len(srcEntries))
		for _, e := range srcEntries {
			srcByName[e.Name] = e
		}

		if c.cfg.Mirror {
			for _, d := range dstEntries {
				if _, ok := srcByName[d.Name]; ok {
					continue
				}
				if err := c.dst.Delete(ctx, path.Join(dstPath, d.Name)); err != nil {
					counts.addErr(err)
					continue
				}
				atomic.AddInt64(&counts.filesDeleted, 1)
			}
		}

		dstSizeByName := make(map[string]int64, len(dstEntries))
		for _, d := range dstEntries {
			dstSizeByName[d.Name] = d.Size
		}

		for _, e := range srcEntries {
			childSrc := path.Join(srcPath, e.Name)
			childDst := path.Join(dstPath, e.Name)

			if e.IsDir {
				c.walk(ctx, p, childSrc, childDst, counts)
				continue
			}

			if size, existed := dstSizeByName[e.Name]; existed && size == e.Size && !c.cfg.OverwriteExisting {
				atomic.AddInt64(&counts.filesSkipped, 1)
				continue
			}

			if err := c.copyFile(ctx, childSrc, childDst, e.Size); err != nil {
				counts.addErr(err)
				continue
			}
			atomic.AddInt64(&counts.filesCopied, 1)
			atomic.AddInt64(&counts.bytesCopied, e.Size)
		}
		return nil
	})
}

// statSrc reports whether srcPath names a file (vs a directory) and its
// size, by listing its parent directory. Root always counts as a directory.
// ok is false if the parent listing failed and file-vs-dir could not be
// determined, in which case the caller falls back to directory semantics.
func (c *Copier) statSrc(ctx context.Context, srcPath string) (isFile bool, size int64, ok bool) {
	if srcPath == "" || srcPath == "/" {
		return false, 0, true
	}
	parent := path.Dir(srcPath)
	name := path.Base(srcPath)
	entries, err := c.src.List(ctx, parent)
	if err != nil {
		return false, 0, false
	}
	for _, e := range entries {
		if e.Name == name {
			return !e.IsDir, e.Size, true
		}
	}
	return false, 0, false
}

// statDstSize reports the size of dstPath at the destination, if it exists.
func (c *Copier) statDstSize(ctx context.Context, dstPath string) (size int64, exists bool) {
	parent := path.Dir(dstPath)
	name := path.Base(dstPath)
	entries, err := c.dst.List(ctx, parent)
	if err != nil {
		return 0, false
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Size, true
		}
	}
	return 0, false
}

func (c *Copier) copyFile(ctx context.Context, srcPath, dstPath string, size int64) error {
	if sameDriver(c.src, c.dst) && c.src.Capabilities().CanServerSideCopy {
		return c.src.CopyItem(ctx, srcPath, dstPath)
	}

	reader, err := c.src.OpenReader(ctx, srcPath, nil)
	if err != nil {
		return err
	}
	defer reader.Close()

	writer, err := c.dst.OpenWriter(ctx, dstPath, size, nil)
	if err != nil {
		return err
	}

	if _, err := io.Copy(writer, reader); err != nil {
		_ = writer.Abort()
		return err
	}
	return writer.Close()
}

// sameDriver reports whether src and dst are the same backend instance, the
// precondition for a server-side copy.
func sameDriver(src, dst driver.Driver) bool {
	return src == dst
}
