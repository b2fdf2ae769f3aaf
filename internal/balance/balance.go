// Package balance selects a replica driver from a balance group under one
// of three modes: weighted round robin, client-IP hash, and geo-region
// partitioning.
package balance

import (
	"hash/fnv"
	"sync/atomic"

	"github.com/nimbusgate/gateway/internal/geoip"
	"github.com/nimbusgate/gateway/pkg/gwerrors"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

// Selector picks a driver from one balance group. One Selector instance is
// created per group and reused across requests so its round-robin counter
// accumulates.
type Selector struct {
	group   gwtypes.BalanceGroup
	geo     *geoip.Resolver
	counter uint64 // atomic, weighted-round-robin cursor
}

// NewSelector builds a Selector for group. geo may be nil unless mode is
// ModeGeoRegion.
func NewSelector(group gwtypes.BalanceGroup, geo *geoip.Resolver) *Selector {
	return &Selector{group: group, geo: geo}
}

// Pick returns the chosen driver for a request from clientIP (empty if
// unknown). Disabled groups and empty driver lists are errors; an empty
// partition under geo_region falls back to round robin over the full set
// falling back when a partition is empty.
func (s *Selector) Pick(clientIP string) (gwtypes.BalanceDriver, error) {
	if !s.group.Enabled {
		return gwtypes.BalanceDriver{}, gwerrors.Unsupported("balance", "group "+s.group.Name+" is disabled")
	}
	if len(s.group.Drivers) == 0 {
		return gwtypes.BalanceDriver{}, gwerrors.NotFound("balance", "group "+s.group.Name+" has no drivers")
	}

	switch s.group.Mode {
	case gwtypes.ModeIPHash:
		return s.pickIPHash(clientIP), nil
	case gwtypes.ModeGeoRegion:
		return s.pickGeoRegion(clientIP), nil
	default:
		return s.pickWeightedRoundRobin(s.group.Drivers), nil
	}
}

// pickWeightedRoundRobin advances the shared atomic counter modulo the sum
// of weights, then walks the cumulative distribution to find the driver
// owning that slot.
func (s *Selector) pickWeightedRoundRobin(drivers []gwtypes.BalanceDriver) gwtypes.BalanceDriver {
	total := uint64(0)
	for _, d := range drivers {
		total += uint64(d.Weight)
	}
	if total == 0 {
		return drivers[0]
	}

	n := atomic.AddUint64(&s.counter, 1)
	slot := (n - 1) % total

	var cursor uint64
	for _, d := range drivers {
		cursor += uint64(d.Weight)
		if slot < cursor {
			return d
		}
	}
	return drivers[len(drivers)-1]
}

// pickIPHash deterministically maps clientIP onto the driver list via an
// FNV hash, so the same client keeps landing on the same replica. Falls
// back to round robin when clientIP is empty.
func (s *Selector) pickIPHash(clientIP string) gwtypes.BalanceDriver {
	if clientIP == "" {
		return s.pickWeightedRoundRobin(s.group.Drivers)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientIP))
	idx := int(h.Sum32() % uint32(len(s.group.Drivers)))
	return s.group.Drivers[idx]
}

// pickGeoRegion partitions drivers into China/non-China nodes via the
// resolver and round-robins within the matching partition, falling back to
// the full set if the partition is empty or no resolver is configured.
func (s *Selector) pickGeoRegion(clientIP string) gwtypes.BalanceDriver {
	if s.geo == nil || clientIP == "" {
		return s.pickWeightedRoundRobin(s.group.Drivers)
	}

	wantChina := s.geo.IsChina(clientIP)
	var partition []gwtypes.BalanceDriver
	for _, d := range s.group.Drivers {
		if d.IsChinaNode == wantChina {
			partition = append(partition, d)
		}
	}
	if len(partition) == 0 {
		return s.pickWeightedRoundRobin(s.group.Drivers)
	}
	return s.pickWeightedRoundRobin(partition)
}
