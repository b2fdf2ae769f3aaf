package balance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

func TestWeightedRoundRobinDistribution(t *testing.T) {
	group := gwtypes.BalanceGroup{
		Name:    "g",
		Mode:    gwtypes.ModeWeightedRoundRobin,
		Enabled: true,
		Drivers: []gwtypes.BalanceDriver{
			{DriverID: "a", Weight: 1},
			{DriverID: "b", Weight: 3},
		},
	}
	sel := NewSelector(group, nil)

	counts := map[string]int{}
	for i := 0; i < 400; i++ {
		d, err := sel.Pick("")
		require.NoError(t, err)
		counts[d.DriverID]++
	}

	require.InDelta(t, 100, counts["a"], 5)
	require.InDelta(t, 300, counts["b"], 5)
}

func TestWeightedRoundRobinExactSequence(t *testing.T) {
	group := gwtypes.BalanceGroup{
		Name:    "g",
		Mode:    gwtypes.ModeWeightedRoundRobin,
		Enabled: true,
		Drivers: []gwtypes.BalanceDriver{
			{DriverID: "d1", Weight: 1},
			{DriverID: "d2", Weight: 3},
		},
	}
	sel := NewSelector(group, nil)

	var got []string
	for i := 0; i < 8; i++ {
		d, err := sel.Pick("")
		require.NoError(t, err)
		got = append(got, d.DriverID)
	}

	require.Equal(t, []string{"d1", "d2", "d2", "d2", "d1", "d2", "d2", "d2"}, got)
}

func TestGeoRegionWithoutResolverFallsBackToFullSet(t *testing.T) {
	group := gwtypes.BalanceGroup{
		Name:    "g",
		Mode:    gwtypes.ModeGeoRegion,
		Enabled: true,
		Drivers: []gwtypes.BalanceDriver{
			{DriverID: "cn", IsChinaNode: true},
			{DriverID: "intl", IsChinaNode: false},
		},
	}

	sel := NewSelector(group, nil)
	// No resolver configured: falls back to round robin over the full set
	// rather than erroring.
	d, err := sel.Pick("8.8.8.8")
	require.NoError(t, err)
	require.NotEmpty(t, d.DriverID)
}

func TestIPHashStable(t *testing.T) {
	group := gwtypes.BalanceGroup{
		Name:    "g",
		Mode:    gwtypes.ModeIPHash,
		Enabled: true,
		Drivers: []gwtypes.BalanceDriver{
			{DriverID: "a"}, {DriverID: "b"}, {DriverID: "c"},
		},
	}
	sel := NewSelector(group, nil)

	first, err := sel.Pick("203.0.113.5")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := sel.Pick("203.0.113.5")
		require.NoError(t, err)
		require.Equal(t, first.DriverID, again.DriverID)
	}
}

func TestIPHashFallsBackWithoutClientIP(t *testing.T) {
	group := gwtypes.BalanceGroup{
		Name:    "g",
		Mode:    gwtypes.ModeIPHash,
		Enabled: true,
		Drivers: []gwtypes.BalanceDriver{{DriverID: "a"}, {DriverID: "b"}},
	}
	sel := NewSelector(group, nil)

	_, err := sel.Pick("")
	require.NoError(t, err)
}

func TestPickRejectsDisabledGroup(t *testing.T) {
	group := gwtypes.BalanceGroup{Name: "g", Enabled: false, Drivers: []gwtypes.BalanceDriver{{DriverID: "a"}}}
	sel := NewSelector(group, nil)

	_, err := sel.Pick("")
	require.Error(t, err)
}

func TestPickRejectsEmptyGroup(t *testing.T) {
	group := gwtypes.BalanceGroup{Name: "g", Enabled: true}
	sel := NewSelector(group, nil)

	_, err := sel.Pick("")
	require.Error(t, err)
}
