package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoshipawsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/nimbusgate/gateway/internal/driver"
	"github.com/nimbusgate/gateway/internal/stream/multipart"
	"github.com/nimbusgate/gateway/pkg/gwerrors"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
	"github.com/nimbusgate/gateway/pkg/logging"
)

const driverName = "s3"

func init() {
	driver.Register(driverName, factory{})
}

type factory struct{}

func (factory) Create(ctx context.Context, config map[string]interface{}) (driver.Driver, error) {
	cfg := configFromMap(config)
	if cfg.Bucket == "" {
		return nil, gwerrors.Fatal("s3", "bucket is required", nil)
	}
	return NewDriver(ctx, cfg, nil)
}

// Driver is an S3-compatible backend. Uploads below the multipart threshold
// go through putDirect (the CargoShip transporter when enabled, else
// PutObject); larger or unknown-size uploads use the chunked multipart
// writer.
type Driver struct {
	client      *s3.Client
	presigner   *s3.PresignClient
	bucket      string
	pool        *ConnectionPool
	cfg         *Config
	transporter *cargoships3.Transporter
	log         *logging.Logger

	mu      sync.Mutex
	metrics backendMetrics
}

type backendMetrics struct {
	requests        int64
	errors          int64
	bytesUploaded   int64
	bytesDownloaded int64
}

// NewDriver constructs an S3 Driver and verifies connectivity via
// HealthCheck.
func NewDriver(ctx context.Context, cfg *Config, log *logging.Logger) (*Driver, error) {
	cfg.applyDefaults()
	if log == nil {
		log = logging.New(logging.INFO, nil, logging.FormatText)
	}
	log = log.With("s3", map[string]interface{}{"bucket": cfg.Bucket})

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, gwerrors.Fatal("s3", "load AWS config", err)
	}

	newClient := func() *s3.Client {
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
			o.UseAccelerate = cfg.UseAccelerate
			o.UseDualstack = cfg.UseDualStack
		})
	}

	client := newClient()
	pool, err := NewConnectionPool(cfg.PoolSize, func() (*s3.Client, error) { return newClient(), nil })
	if err != nil {
		return nil, gwerrors.Fatal("s3", "create connection pool", err)
	}

	var transporter *cargoships3.Transporter
	if cfg.EnableCargoShipOptimization {
		cargoCfg := cargoshipawsconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       cargoshipawsconfig.StorageClassStandard,
			MultipartThreshold: cfg.MultipartThreshold,
			MultipartChunkSize: cfg.MultipartChunkSize,
			Concurrency:        cfg.PoolSize,
		}
		transporter = cargoships3.NewTransporter(client, cargoCfg)
		log.Info("cargoship upload optimization enabled", map[string]interface{}{"chunk_size": cfg.MultipartChunkSize})
	}

	d := &Driver{
		client:      client,
		presigner:   s3.NewPresignClient(client),
		bucket:      cfg.Bucket,
		pool:        pool,
		cfg:         cfg,
		transporter: transporter,
		log:         log,
	}

	if err := d.HealthCheck(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) Name() string { return driverName }

func (d *Driver) Capabilities() gwtypes.Capability {
	return gwtypes.Capability{
		CanRangeRead:        true,
		CanDirectLink:       true,
		CanConcurrentUpload: true,
		CanMultipartUpload:  true,
		CanServerSideCopy:   true,
		CanBatchOperations:  true,
		MaxChunkSize:        d.cfg.MultipartChunkSize,
	}
}

func key(p string) string {
	return strings.TrimPrefix(p, "/")
}

func (d *Driver) List(ctx context.Context, p string) ([]gwtypes.Entry, error) {
	prefix := key(p)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	client, err := d.pool.Get()
	if err != nil {
		return nil, gwerrors.Transient("s3", "acquire client", err)
	}
	defer d.pool.Put(client)

	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	d.observe(err)
	if err != nil {
		return nil, d.translateError(err, "List", p)
	}

	entries := make([]gwtypes.Entry, 0, len(out.Contents)+len(out.CommonPrefixes))
	for _, cp := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
		if name == "" {
			continue
		}
		entries = append(entries, gwtypes.Entry{Name: name, IsDir: true})
	}
	for _, obj := range out.Contents {
		name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		modified := aws.ToTime(obj.LastModified)
		entries = append(entries, gwtypes.Entry{
			Name:     name,
			Size:     aws.ToInt64(obj.Size),
			Modified: &modified,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (d *Driver) OpenReader(ctx context.Context, p string, rng *driver.ByteRange) (driver.ReadCloser, error) {
	client, err := d.pool.Get()
	if err != nil {
		return nil, gwerrors.Transient("s3", "acquire client", err)
	}
	defer d.pool.Put(client)

	input := &s3.GetObjectInput{Bucket: aws.String(d.bucket), Key: aws.String(key(p))}
	if rng != nil {
		var rangeHeader string
		if rng.End < 0 {
			rangeHeader = fmt.Sprintf("bytes=%d-", rng.Start)
		} else {
			rangeHeader = fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End)
		}
		input.Range = aws.String(rangeHeader)
	}

	result, err := client.GetObject(ctx, input)
	d.observe(err)
	if err != nil {
		return nil, d.translateError(err, "GetObject", p)
	}
	return result.Body, nil
}

// s3PartUploader adapts a multipart upload session to multipart.PartUploader.
type s3PartUploader struct {
	client   *s3.Client
	bucket   string
	key      string
	uploadID string
}

func (u *s3PartUploader) UploadPart(ctx context.Context, number int, data []byte) (string, error) {
	out, err := u.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(u.bucket),
		Key:        aws.String(u.key),
		UploadId:   aws.String(u.uploadID),
		PartNumber: aws.Int32(int32(number)),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

func (u *s3PartUploader) Complete(ctx context.Context, parts []multipart.CompletedPart) error {
	completed := make([]s3types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, s3types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.Number)),
		})
	}
	_, err := u.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	return err
}

func (u *s3PartUploader) Abort(ctx context.Context) error {
	_, err := u.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	return err
}

// CompleteEmpty abandons the multipart session (no part was ever uploaded,
// so there is nothing to complete against it) and creates the object
// through a direct zero-length PutObject instead.
func (u *s3PartUploader) CompleteEmpty(ctx context.Context) error {
	_, _ = u.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	return err
}

// directWriter buffers the whole object in memory and uploads it in one
// putDirect call on Close (CargoShip transporter when enabled, falling back
// to PutObject) — the small-file path, used for empty files and for every
// upload under the multipart threshold.
type directWriter struct {
	ctx      context.Context
	d        *Driver
	key      string
	buf      bytes.Buffer
	progress driver.ProgressFunc
	aborted  bool
}

func (w *directWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if w.progress != nil {
		w.progress(int64(w.buf.Len()))
	}
	return n, err
}

func (w *directWriter) Close() error {
	if w.aborted {
		return gwerrors.Conflict("s3", "write after abort")
	}
	return w.d.putDirect(w.ctx, w.key, w.buf.Bytes())
}

func (w *directWriter) Abort() error {
	w.aborted = true
	w.buf.Reset()
	return nil
}

func (d *Driver) putDirect(ctx context.Context, k string, data []byte) error {
	if d.transporter != nil {
		archive := cargoships3.Archive{
			Key:          k,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: cargoshipawsconfig.StorageClassStandard,
		}
		if _, err := d.transporter.Upload(ctx, archive); err == nil {
			d.mu.Lock()
			d.metrics.bytesUploaded += int64(len(data))
			d.mu.Unlock()
			return nil
		}
		d.log.Warn("cargoship upload failed, falling back to direct PutObject", map[string]interface{}{"key": k})
	}

	client, err := d.pool.Get()
	if err != nil {
		return gwerrors.Transient("s3", "acquire client", err)
	}
	defer d.pool.Put(client)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(k),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	d.observe(err)
	if err != nil {
		return d.translateError(err, "PutObject", k)
	}

	d.mu.Lock()
	d.metrics.bytesUploaded += int64(len(data))
	d.mu.Unlock()
	return nil
}

func (d *Driver) OpenWriter(ctx context.Context, p string, sizeHint int64, progress driver.ProgressFunc) (driver.WriteCloser, error) {
	k := key(p)

	// sizeHint < 0 means unknown (streaming) size; sizeHint == 0 is a known
	// empty file. Both a known-small size and a known-empty file use the
	// direct PutObject path; empty-file uploads always go via the
	// small-file path.
	if sizeHint >= 0 && sizeHint < d.cfg.MultipartThreshold {
		return &directWriter{ctx: ctx, d: d, key: k, progress: progress}, nil
	}

	create, err := d.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		return nil, d.translateError(err, "CreateMultipartUpload", p)
	}

	uploader := &s3PartUploader{client: d.client, bucket: d.bucket, key: k, uploadID: aws.ToString(create.UploadId)}
	mw := multipart.NewWriter(ctx, uploader, multipart.Config{
		PartSize:       d.cfg.MultipartChunkSize,
		MaxConcurrency: d.cfg.PoolSize,
	}, d.log)

	return &progressWriter{w: mw, progress: progress}, nil
}

// progressWriter reports cumulative bytes through a multipart.Writer, which
// has no ProgressFunc hook of its own.
type progressWriter struct {
	w        *multipart.Writer
	progress driver.ProgressFunc
	written  int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.progress != nil {
		p.progress(p.written)
	}
	return n, err
}

func (p *progressWriter) Close() error { return p.w.Close() }
func (p *progressWriter) Abort() error { return p.w.Abort() }

// Delete removes the single object stored under p's key. Objects under p's
// key prefix (the contents of a directory) are not removed.
func (d *Driver) Delete(ctx context.Context, p string) error {
	client, err := d.pool.Get()
	if err != nil {
		return gwerrors.Transient("s3", "acquire client", err)
	}
	defer d.pool.Put(client)

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(d.bucket), Key: aws.String(key(p))})
	d.observe(err)
	if err != nil {
		return d.translateError(err, "DeleteObject", p)
	}
	return nil
}

func (d *Driver) CreateDir(ctx context.Context, p string) error {
	k := key(p)
	if !strings.HasSuffix(k, "/") {
		k += "/"
	}
	return d.putDirect(ctx, k, nil)
}

func (d *Driver) Rename(ctx context.Context, p, newName string) error {
	k := key(p)
	parent := strings.TrimSuffix(strings.TrimSuffix(k, "/"), lastSegment(k))
	return d.MoveItem(ctx, p, "/"+parent+newName)
}

func lastSegment(k string) string {
	parts := strings.Split(strings.TrimSuffix(k, "/"), "/")
	return parts[len(parts)-1]
}

func (d *Driver) MoveItem(ctx context.Context, src, dst string) error {
	if err := d.CopyItem(ctx, src, dst); err != nil {
		return err
	}
	return d.Delete(ctx, src)
}

func (d *Driver) CopyItem(ctx context.Context, src, dst string) error {
	client, err := d.pool.Get()
	if err != nil {
		return gwerrors.Transient("s3", "acquire client", err)
	}
	defer d.pool.Put(client)

	// the copy-source is URL-encoded exactly once, here, not again
	// by the SDK — s3.CopySource expects bucket/key already percent-encoded.
	source := d.bucket + "/" + urlEncodeOnce(key(src))
	_, err = client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(key(dst)),
		CopySource: aws.String(source),
	})
	d.observe(err)
	if err != nil {
		return d.translateError(err, "CopyObject", src)
	}
	return nil
}

func (d *Driver) GetDirectLink(ctx context.Context, p string) (string, error) {
	req, err := d.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key(p)),
	}, s3.WithPresignExpires(time.Duration(d.cfg.LinkExpiryMinutes)*time.Minute))
	if err != nil {
		return "", d.translateError(err, "PresignGetObject", p)
	}
	return req.URL, nil
}

func (d *Driver) GetSpaceInfo(ctx context.Context) (*gwtypes.SpaceInfo, error) {
	return nil, nil
}

func (d *Driver) HealthCheck(ctx context.Context) error {
	client, err := d.pool.Get()
	if err != nil {
		return gwerrors.Transient("s3", "acquire client", err)
	}
	defer d.pool.Put(client)

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)})
	if err != nil {
		return gwerrors.Fatal("s3", "health check failed", err)
	}
	return nil
}

func (d *Driver) observe(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics.requests++
	if err != nil {
		d.metrics.errors++
	}
}

func (d *Driver) translateError(err error, operation, p string) error {
	var notFound *s3types.NoSuchKey
	var noBucket *s3types.NoSuchBucket
	switch {
	case errors.As(err, &notFound):
		return gwerrors.NotFound("s3", p).WithOperation(operation).WithCause(err)
	case errors.As(err, &noBucket):
		return gwerrors.NotFound("s3", d.bucket).WithOperation(operation).WithCause(err)
	default:
		return gwerrors.Transient("s3", operation+" failed for "+p, err).WithOperation(operation)
	}
}

func urlEncodeOnce(k string) string {
	var b strings.Builder
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-' || c == '_' || c == '.' || c == '~' || c == '/':
			b.WriteByte(c)
		default:
			b.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return b.String()
}

var _ driver.Driver = (*Driver)(nil)
