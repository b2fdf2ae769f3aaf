// Package gateway composes the mount resolver, load-balancing selector,
// traffic governor, and driver contract into the read/write/list operations
// described by spec §2's control flow: resolve mount, select a replica if
// one applies, pass proxy downloads through the traffic governor, then
// invoke the driver. It is the library surface an HTTP/WebDAV handler layer
// would call; this package stops short of that handler layer, which is out
// of scope.
package gateway

import (
	"context"
	"io"
	"time"

	"github.com/nimbusgate/gateway/internal/balance"
	"github.com/nimbusgate/gateway/internal/driver"
	"github.com/nimbusgate/gateway/internal/governor"
	"github.com/nimbusgate/gateway/internal/health"
	"github.com/nimbusgate/gateway/internal/meta"
	"github.com/nimbusgate/gateway/internal/metrics"
	"github.com/nimbusgate/gateway/internal/mount"
	"github.com/nimbusgate/gateway/internal/stream"
	"github.com/nimbusgate/gateway/pkg/gwerrors"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
	"github.com/nimbusgate/gateway/pkg/logging"
)

// TrafficSink receives per-user accounting updates when a proxy download
// completes or is interrupted. Implementations are expected to be
// fire-and-forget, matching spec §4.4's "ordering of this update relative to
// other DB writes is not guaranteed"; a nil sink disables accounting.
type TrafficSink interface {
	RecordTransfer(userID string, bytes int64)
}

// Gateway ties together the mount table, meta rules, balance selectors, and
// traffic governor into one façade. Safe for concurrent use; all mutable
// state lives in the components it wraps.
type Gateway struct {
	mounts   *mount.Table
	metas    *meta.Table
	gov      *governor.Governor
	selector map[string]*balance.Selector // keyed by replica group's shared mount_path
	metrics  *metrics.Collector
	sink     TrafficSink
	log      *logging.Logger
	health   *health.Checker
}

// Options configures a new Gateway. Governor, Metrics, Metas, Sink, and Log
// may all be left zero/nil; sensible no-op defaults apply.
type Options struct {
	Mounts        *mount.Table
	Metas         *meta.Table
	Gov           *governor.Governor
	Groups        map[string]*balance.Selector
	Metrics       *metrics.Collector
	Sink          TrafficSink
	Log           *logging.Logger
	HealthCheck   time.Duration // interval between driver health probes; <=0 uses health.NewChecker's default
}

// New builds a Gateway from opts. Every enabled mount already registered on
// opts.Mounts at construction time is enrolled in the health checker;
// disabled mounts and mounts added afterward are not picked up.
func New(opts Options) *Gateway {
	log := opts.Log
	if log == nil {
		log = logging.New(logging.INFO, nil, logging.FormatText)
	}
	groups := opts.Groups
	if groups == nil {
		groups = make(map[string]*balance.Selector)
	}

	checker := health.NewChecker(opts.HealthCheck, log)
	if opts.Mounts != nil {
		for _, c := range opts.Mounts.All() {
			checker.Register(c.ID, c.Driver)
		}
	}

	return &Gateway{
		mounts:   opts.Mounts,
		metas:    opts.Metas,
		gov:      opts.Gov,
		selector: groups,
		metrics:  opts.Metrics,
		sink:     opts.Sink,
		log:      log.With("gateway", nil),
		health:   checker,
	}
}

// StartHealthChecks runs the driver health-check loop in the background
// until ctx is cancelled. Optional: callers that don't need liveness status
// for the §4.2 HealthCheck operation can skip calling this.
func (g *Gateway) StartHealthChecks(ctx context.Context) {
	go g.health.Run(ctx)
}

// Health returns the last known health of every registered driver.
func (g *Gateway) Health() []health.Status {
	return g.health.All()
}

// ReadRequest describes one read: the virtual path, an optional byte range,
// the caller's identity for load balancing and accounting, and whether the
// bytes will be proxied through the gateway (subject to the traffic
// governor) or handed back as a direct link.
type ReadRequest struct {
	Path     string
	Range    *driver.ByteRange
	ClientIP string
	Host     string
	UserID   string
	Proxy    bool
}

// pickCandidate resolves p and, when the candidate set is a replica group
// with a registered selector, narrows it to the chosen driver. Non-replica
// resolutions (zero or one candidate) pass through untouched.
func (g *Gateway) pickCandidate(p, clientIP string) (mount.Candidate, error) {
	candidates := g.mounts.Resolve(p)
	if len(candidates) == 0 {
		return mount.Candidate{}, gwerrors.NotFound("gateway", "no mount for "+p)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	if sel, ok := g.selector[candidates[0].MountPath]; ok {
		chosen, err := sel.Pick(clientIP)
		if err != nil {
			return candidates[0], nil // selector declined (disabled/empty) — fall back to order
		}
		for _, c := range candidates {
			if c.ID == chosen.DriverID {
				return c, nil
			}
		}
	}
	return candidates[0], nil
}

// OpenReader resolves req.Path, applies the traffic governor when
// req.Proxy is set, and returns a byte stream from the chosen driver.
// Capabilities are consulted before the range is ever handed to the driver:
// a ranged read against a driver that doesn't support it is rejected here,
// not silently served from the start of the file.
func (g *Gateway) OpenReader(ctx context.Context, req ReadRequest) (io.ReadCloser, error) {
	cand, err := g.pickCandidate(req.Path, req.ClientIP)
	if err != nil {
		return nil, err
	}

	capSet := cand.Driver.Capabilities()
	if req.Range != nil && !capSet.CanRangeRead {
		return nil, gwerrors.Unsupported("gateway", "driver does not support ranged reads").
			WithContext("path", req.Path)
	}

	var release governor.Release
	if req.Proxy && g.gov != nil {
		if !g.gov.Domain.Allowed(req.Host) {
			if g.metrics != nil {
				g.metrics.GovernorRejections.Inc()
			}
			return nil, gwerrors.PolicyDenied("gateway", "host does not match configured download domain").
				WithContext("host", req.Host)
		}
		release, err = g.gov.Gate.Acquire()
		if err != nil {
			if g.metrics != nil {
				g.metrics.GovernorRejections.Inc()
			}
			return nil, gwerrors.PolicyDenied("gateway", "concurrent download limit reached")
		}
	}

	start := time.Now()
	r, err := cand.Driver.OpenReader(ctx, cand.LocalPath, req.Range)
	if g.metrics != nil {
		code := ""
		if err != nil {
			code = string(gwerrors.CodeFatal)
		}
		g.metrics.ObserveDriverOp(cand.Driver.Name(), "open_reader", start, code)
	}
	if err != nil {
		if release != nil {
			release()
		}
		return nil, err
	}

	if !req.Proxy {
		return r, nil
	}

	wrapped := io.ReadCloser(r)
	if g.gov != nil {
		wrapped = &releasingReader{ReadCloser: stream.NewThrottledReader(ctx, wrapped, g.gov.Bucket), release: release}
	}
	wrapped = stream.NewCountingReader(wrapped, func(total int64) {
		if g.metrics != nil {
			g.metrics.GovernorBytesOut.Add(float64(total))
		}
		if g.sink != nil && req.UserID != "" {
			g.sink.RecordTransfer(req.UserID, total)
		}
	})
	return wrapped, nil
}

// releasingReader wraps a ThrottledReader so the concurrency-gate slot is
// released exactly once, on Close, regardless of whether the stream reached
// EOF or the caller disconnected early.
type releasingReader struct {
	*stream.ThrottledReader
	release governor.Release
	done    bool
}

func (r *releasingReader) Close() error {
	err := r.ThrottledReader.Close()
	if !r.done && r.release != nil {
		r.done = true
		r.release()
	}
	return err
}

// OpenWriter resolves the single write-routed driver for p (spec §4.1:
// mutating operations never use the selector) and opens a writer, rejecting
// up front if sizeHint exceeds the driver's advertised MaxFileSize.
func (g *Gateway) OpenWriter(ctx context.Context, p string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	cand, err := g.mounts.ResolveForWrite(p)
	if err != nil {
		return nil, err
	}

	capSet := cand.Driver.Capabilities()
	if capSet.MaxFileSize > 0 && sizeHint > capSet.MaxFileSize {
		return nil, gwerrors.Unsupported("gateway", "file exceeds driver's maximum size").
			WithContext("path", p)
	}

	return cand.Driver.OpenWriter(ctx, cand.LocalPath, sizeHint, progress)
}

// List merges driver listings across p's candidate set with its virtual
// directories, applying hide rules for non-admin callers.
func (g *Gateway) List(ctx context.Context, p string, isAdmin bool) ([]gwtypes.Entry, error) {
	candidates := g.mounts.Resolve(p)
	virtualDirs := g.mounts.VirtualDirs(p)
	if len(candidates) == 0 && len(virtualDirs) == 0 && p != "/" {
		return nil, gwerrors.NotFound("gateway", "no mount for "+p)
	}

	merge := g.mounts.List(candidates, virtualDirs, g.metas, isAdmin)
	return merge(func(c mount.Candidate) ([]gwtypes.Entry, error) {
		return c.Driver.List(ctx, c.LocalPath)
	})
}

// CreateDir, Delete, Rename, MoveItem, and CopyItem all route through the
// write-routed driver per spec §4.1.

func (g *Gateway) CreateDir(ctx context.Context, p string) error {
	cand, err := g.mounts.ResolveForWrite(p)
	if err != nil {
		return err
	}
	return cand.Driver.CreateDir(ctx, cand.LocalPath)
}

func (g *Gateway) Delete(ctx context.Context, p string) error {
	cand, err := g.mounts.ResolveForWrite(p)
	if err != nil {
		return err
	}
	return cand.Driver.Delete(ctx, cand.LocalPath)
}

func (g *Gateway) Rename(ctx context.Context, p, newName string) error {
	cand, err := g.mounts.ResolveForWrite(p)
	if err != nil {
		return err
	}
	return cand.Driver.Rename(ctx, cand.LocalPath, newName)
}

func (g *Gateway) MoveItem(ctx context.Context, src, dst string) error {
	cand, err := g.mounts.ResolveForWrite(src)
	if err != nil {
		return err
	}
	dstCand, err := g.mounts.ResolveForWrite(dst)
	if err != nil {
		return err
	}
	if dstCand.Driver != cand.Driver {
		return gwerrors.Unsupported("gateway", "move across drivers is not a move, use copy")
	}
	return cand.Driver.MoveItem(ctx, cand.LocalPath, dstCand.LocalPath)
}

func (g *Gateway) CopyItem(ctx context.Context, src, dst string) error {
	cand, err := g.mounts.ResolveForWrite(src)
	if err != nil {
		return err
	}
	dstCand, err := g.mounts.ResolveForWrite(dst)
	if err != nil {
		return err
	}
	if dstCand.Driver != cand.Driver {
		return gwerrors.Unsupported("gateway", "server-side copy requires the same driver on both ends")
	}
	if !cand.Driver.Capabilities().CanServerSideCopy {
		return gwerrors.Unsupported("gateway", "driver does not support server-side copy")
	}
	return cand.Driver.CopyItem(ctx, cand.LocalPath, dstCand.LocalPath)
}

// GetDirectLink resolves p, preferring within the candidate set a driver
// whose capability declares CanDirectLink (spec §4.5's tie-break is the
// caller's responsibility — this is that caller), and returns the backend
// URL plus the configured expiry the link should be considered valid for.
func (g *Gateway) GetDirectLink(ctx context.Context, p, clientIP string) (string, time.Duration, error) {
	candidates := g.mounts.Resolve(p)
	if len(candidates) == 0 {
		return "", 0, gwerrors.NotFound("gateway", "no mount for "+p)
	}

	cand := candidates[0]
	for _, c := range candidates {
		if c.Driver.Capabilities().CanDirectLink {
			cand = c
			break
		}
	}
	if sel, ok := g.selector[cand.MountPath]; ok && len(candidates) > 1 {
		if chosen, err := sel.Pick(clientIP); err == nil {
			for _, c := range candidates {
				if c.ID == chosen.DriverID && c.Driver.Capabilities().CanDirectLink {
					cand = c
					break
				}
			}
		}
	}

	url, err := cand.Driver.GetDirectLink(ctx, cand.LocalPath)
	if err != nil {
		return "", 0, err
	}
	expiry := 15 * time.Minute
	if g.gov != nil {
		expiry = g.gov.Domain.Expiry()
	}
	return url, expiry, nil
}
