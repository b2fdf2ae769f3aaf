// Package gwtypes holds the value types shared across the gateway core:
// mounts, entries, capabilities, and balance-group configuration.
package gwtypes

import "time"

// Entry is a single listing result. Name never contains '/'.
type Entry struct {
	Name     string
	Size     int64
	IsDir    bool
	Modified *time.Time
}

// Capability declares what a driver can do. Declared once at construction
// and immutable for the driver's lifetime.
type Capability struct {
	CanRangeRead            bool
	CanDirectLink           bool
	CanConcurrentUpload     bool
	CanMultipartUpload      bool
	CanServerSideCopy       bool
	CanBatchOperations      bool
	RequiresOAuth           bool
	RequiresFullFileForUpload bool
	MaxChunkSize            int64 // 0 = unbounded
	MaxFileSize             int64 // 0 = unbounded
}

// ObjectInfo is metadata about a single object/file, richer than Entry,
// returned by driver HeadObject-equivalent operations.
type ObjectInfo struct {
	Path         string
	Size         int64
	IsDir        bool
	Modified     time.Time
	ETag         string
	ContentType  string
	Metadata     map[string]string
}

// SpaceInfo is a backend's used/total/free space, when available.
type SpaceInfo struct {
	Used  int64
	Total int64
	Free  int64
}

// Mount binds a canonical virtual path to a driver instance.
type Mount struct {
	ID         string
	MountPath  string
	DriverID   string
	Order      int
	Enabled    bool
}

// BalanceMode selects the replica-selection algorithm.
type BalanceMode string

const (
	ModeWeightedRoundRobin BalanceMode = "weighted_round_robin"
	ModeIPHash             BalanceMode = "ip_hash"
	ModeGeoRegion          BalanceMode = "geo_region"
)

// BalanceDriver is one member of a replica group.
type BalanceDriver struct {
	DriverID     string
	MountPath    string
	Weight       uint32
	Capability   Capability
	Order        int32
	IsChinaNode  bool
}

// BalanceGroup is a named, load-balanced set of replica drivers.
type BalanceGroup struct {
	Name    string
	Mode    BalanceMode
	Drivers []BalanceDriver
	Enabled bool
}

// DownloadSettings is the process-wide traffic-governor configuration.
type DownloadSettings struct {
	DownloadDomain      string // normalized, empty = unconfigured
	MaxSpeedBPS         int64  // 0 = unlimited
	MaxConcurrent       int32  // 0 = unlimited
	LinkExpiryMinutes   int    // default 15, minimum 1
}
