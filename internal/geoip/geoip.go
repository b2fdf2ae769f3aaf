// Package geoip resolves a client IP to a coarse region code used by the
// geo_region balance mode. Private and loopback addresses
// short-circuit to "LOCAL" without touching the database, mirroring the
// reference implementation's fast path for LAN clients.
package geoip

import (
	"net"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

// LocalRegion is returned for private, loopback, or link-local addresses.
const LocalRegion = "LOCAL"

// UnknownRegion is returned when the address can't be classified: no
// database loaded, lookup miss, or an unparsable IP.
const UnknownRegion = ""

// countryRecord mirrors the subset of a MaxMind GeoLite2-Country record we
// read; maxminddb decodes into it field by field.
type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Resolver looks up ISO country codes from a MaxMind mmdb file. The zero
// value is usable: every lookup short-circuits to UnknownRegion (or LOCAL
// for private addresses) until a database is loaded.
type Resolver struct {
	mu sync.RWMutex
	db *maxminddb.Reader
}

// NewResolver opens the mmdb at path. Callers typically hold the result for
// the process lifetime and call Close on shutdown.
func NewResolver(path string) (*Resolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Resolver{db: db}, nil
}

// Close releases the underlying mmdb file handle. Safe to call on a
// zero-value Resolver.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Reload swaps in a freshly opened database, atomically with respect to
// concurrent Lookups, and closes the previous one.
func (r *Resolver) Reload(path string) error {
	db, err := maxminddb.Open(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.db
	r.db = db
	r.mu.Unlock()

	if old != nil {
		return old.Close()
	}
	return nil
}

// Region classifies ip, returning LocalRegion for private/loopback/
// link-local addresses without consulting the database, and UnknownRegion
// if nothing else applies.
func (r *Resolver) Region(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return UnknownRegion
	}
	if isLocal(parsed) {
		return LocalRegion
	}

	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()
	if db == nil {
		return UnknownRegion
	}

	var rec countryRecord
	if err := db.Lookup(parsed, &rec); err != nil {
		return UnknownRegion
	}
	return rec.Country.ISOCode
}

// IsChina reports whether ip should be routed to the china-node partition:
// it resolves to CN, or it's a private/loopback/link-local address treated
// as being on the local (China-side) network.
func (r *Resolver) IsChina(ip string) bool {
	region := r.Region(ip)
	return region == "CN" || region == LocalRegion
}

func isLocal(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	return false
}
