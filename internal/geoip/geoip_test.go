package geoip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegionShortCircuitsPrivateAndLoopbackWithoutADatabase(t *testing.T) {
	var r Resolver // zero value: no database loaded

	require.Equal(t, LocalRegion, r.Region("127.0.0.1"))
	require.Equal(t, LocalRegion, r.Region("10.0.0.5"))
	require.Equal(t, LocalRegion, r.Region("192.168.1.1"))
	require.Equal(t, LocalRegion, r.Region("169.254.1.1"))
}

func TestRegionUnknownWithoutDatabaseForPublicIP(t *testing.T) {
	var r Resolver
	require.Equal(t, UnknownRegion, r.Region("8.8.8.8"))
}

func TestRegionUnparsableIPIsUnknown(t *testing.T) {
	var r Resolver
	require.Equal(t, UnknownRegion, r.Region("not-an-ip"))
}

func TestIsChinaTreatsLocalNetworkAsChinaPartition(t *testing.T) {
	var r Resolver
	require.True(t, r.IsChina("192.168.1.1"), "private addresses route to the china-node partition")
	require.False(t, r.IsChina("8.8.8.8"), "an unresolvable public IP falls outside the china-node partition")
}
