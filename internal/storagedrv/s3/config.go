// Package s3 implements the Driver contract against an S3-compatible
// backend:
// connection pooling, CargoShip-optimized uploads, and a chunked multipart
// path for large objects.
package s3

import "time"

// Config is an S3 backend's connection and performance configuration.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool

	MaxRetries     int
	RequestTimeout time.Duration
	PoolSize       int

	UseAccelerate bool
	UseDualStack  bool

	EnableCargoShipOptimization bool
	MultipartThreshold          int64
	MultipartChunkSize          int64

	LinkExpiryMinutes int
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	if c.MultipartThreshold <= 0 {
		c.MultipartThreshold = 32 << 20
	}
	if c.MultipartChunkSize <= 0 {
		c.MultipartChunkSize = 16 << 20
	}
	if c.LinkExpiryMinutes <= 0 {
		c.LinkExpiryMinutes = 15
	}
}

func configFromMap(m map[string]interface{}) *Config {
	cfg := &Config{}
	if v, ok := m["bucket"].(string); ok {
		cfg.Bucket = v
	}
	if v, ok := m["region"].(string); ok {
		cfg.Region = v
	}
	if v, ok := m["endpoint"].(string); ok {
		cfg.Endpoint = v
	}
	if v, ok := m["access_key_id"].(string); ok {
		cfg.AccessKeyID = v
	}
	if v, ok := m["secret_access_key"].(string); ok {
		cfg.SecretAccessKey = v
	}
	if v, ok := m["force_path_style"].(bool); ok {
		cfg.ForcePathStyle = v
	}
	if v, ok := m["enable_cargoship_optimization"].(bool); ok {
		cfg.EnableCargoShipOptimization = v
	}
	if v, ok := m["link_expiry_minutes"].(int); ok {
		cfg.LinkExpiryMinutes = v
	}
	cfg.applyDefaults()
	return cfg
}
