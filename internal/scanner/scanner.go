// Package scanner recursively walks a driver's tree and flushes batches of
// entries into a search index, using sourcegraph/conc for
// bounded concurrent fan-out across subdirectories and go.uber.org/multierr
// to tolerate per-subtree failures without aborting the whole scan.
package scanner

import (
	"context"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/nimbusgate/gateway/internal/driver"
	"github.com/nimbusgate/gateway/internal/searchindex"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
	"github.com/nimbusgate/gateway/pkg/logging"
	"github.com/nimbusgate/gateway/pkg/retry"
)

// Config controls scan concurrency and batch size.
type Config struct {
	MaxConcurrency int // bounded fan-out across subdirectories; default 4
	BatchSize      int // entries buffered before a flush; default 500
}

// Scanner walks a driver's namespace, indexing everything it finds.
type Scanner struct {
	drv     driver.Driver
	index   *searchindex.Index
	cfg     Config
	log     *logging.Logger
	retryer *retry.Retryer
}

// New creates a Scanner for drv, writing into index.
func New(drv driver.Driver, index *searchindex.Index, cfg Config, log *logging.Logger) *Scanner {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if log == nil {
		log = logging.New(logging.INFO, nil, logging.FormatText)
	}
	return &Scanner{
		drv:     drv,
		index:   index,
		cfg:     cfg,
		log:     log.With("scanner", nil),
		retryer: retry.New(retry.DefaultConfig()),
	}
}

// Result summarizes one full scan run.
type Result struct {
	FilesIndexed int
	DirsIndexed  int
	Errors       error // accumulated multierr, nil if everything succeeded
}

// counters accumulates scan progress across the pool's goroutines.
type counters struct {
	files int64
	dirs  int64
	errMu sync.Mutex
	err   error
}

func (c *counters) addErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.err = multierr.Append(c.err, err)
}

// Scan walks from root and indexes everything reachable, tolerating
// per-subtree failures (a failed List on one directory doesn't stop the
// scan from covering its siblings).
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	c := &counters{}

	p := pool.New().WithMaxGoroutines(s.cfg.MaxConcurrency).WithContext(ctx)
	s.walk(ctx, p, root, c)

	if err := p.Wait(); err != nil {
		c.addErr(err)
	}

	if err := s.index.SetLastUpdated(ctx, time.Now()); err != nil {
		s.log.Warn("failed to record scan completion time", map[string]interface{}{"error": err.Error()})
	}

	return &Result{
		FilesIndexed: int(atomic.LoadInt64(&c.files)),
		DirsIndexed:  int(atomic.LoadInt64(&c.dirs)),
		Errors:       c.err,
	}, nil
}

func (s *Scanner) walk(ctx context.Context, p *pool.ContextPool, dir string, c *counters) {
	p.Go(func(ctx context.Context) error {
		var entries []gwtypes.Entry
		err := s.retryer.Do(ctx, func(ctx context.Context) error {
			var listErr error
			entries, listErr = s.drv.List(ctx, dir)
			return listErr
		})
		if err != nil {
			c.addErr(err)
			s.log.Warn("list failed after retries, skipping subtree", map[string]interface{}{"path": dir, "error": err.Error()})
			return nil
		}

		batch := searchindex.EntriesFromGateway(dir, entries)
		for start := 0; start < len(batch); start += s.cfg.BatchSize {
			end := start + s.cfg.BatchSize
			if end > len(batch) {
				end = len(batch)
			}
			if err := s.index.InsertOrRefresh(ctx, batch[start:end]); err != nil {
				c.addErr(err)
			}
		}

		atomic.AddInt64(&c.dirs, 1)
		for _, e := range entries {
			if e.IsDir {
				child := path.Join(dir, e.Name)
				s.walk(ctx, p, child, c)
			} else {
				atomic.AddInt64(&c.files, 1)
			}
		}
		return nil
	})
}
