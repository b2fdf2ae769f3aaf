package gateway

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbusgate/gateway/internal/balance"
	"github.com/nimbusgate/gateway/internal/driver"
	"github.com/nimbusgate/gateway/internal/governor"
	"github.com/nimbusgate/gateway/internal/mount"
	"github.com/nimbusgate/gateway/internal/storagedrv/inmemory"
	"github.com/nimbusgate/gateway/pkg/gwerrors"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

func newTable(t *testing.T) (*mount.Table, *inmemory.Driver, *inmemory.Driver) {
	t.Helper()
	table := mount.NewTable()
	d1 := inmemory.New()
	d2 := inmemory.New()
	table.Add(gwtypes.Mount{ID: "m1", MountPath: "/a", DriverID: "d1", Order: 0, Enabled: true}, d1)
	table.Add(gwtypes.Mount{ID: "m2", MountPath: "/a/b", DriverID: "d2", Order: 0, Enabled: true}, d2)
	return table, d1, d2
}

func TestGatewayWriteThenReadRoundTrip(t *testing.T) {
	table, _, _ := newTable(t)
	gw := New(Options{Mounts: table})
	ctx := context.Background()

	w, err := gw.OpenWriter(ctx, "/a/x/file.txt", 5, nil)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := gw.OpenReader(ctx, ReadRequest{Path: "/a/x/file.txt"})
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestGatewayCreateDirThenList(t *testing.T) {
	table, _, _ := newTable(t)
	gw := New(Options{Mounts: table})
	ctx := context.Background()

	require.NoError(t, gw.CreateDir(ctx, "/a/sub"))

	entries, err := gw.List(ctx, "/a", true)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.Contains(t, names, "sub")
	require.Contains(t, names, "b") // virtual dir synthesized from the /a/b mount
}

func TestGatewayListRootSynthesizesVirtualDir(t *testing.T) {
	table, _, _ := newTable(t)
	gw := New(Options{Mounts: table})

	entries, err := gw.List(context.Background(), "/", true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a", entries[0].Name)
	require.True(t, entries[0].IsDir)
}

func TestGatewayOpenReaderRejectsUnsupportedRange(t *testing.T) {
	table := mount.NewTable()
	d := &rangelessDriver{Driver: inmemory.New()}
	table.Add(gwtypes.Mount{ID: "m1", MountPath: "/a", Enabled: true}, d)
	gw := New(Options{Mounts: table})
	ctx := context.Background()

	w, err := gw.OpenWriter(ctx, "/a/file.txt", 4, nil)
	require.NoError(t, err)
	_, _ = w.Write([]byte("data"))
	require.NoError(t, w.Close())

	_, err = gw.OpenReader(ctx, ReadRequest{Path: "/a/file.txt", Range: &driver.ByteRange{End: -1}})
	require.Error(t, err)
	require.True(t, gwerrors.IsCode(err, gwerrors.CodeUnsupported))
}

func TestGatewayProxyDownloadRespectsConcurrencyGate(t *testing.T) {
	table, _, _ := newTable(t)
	ctx := context.Background()
	w, err := mustWriter(ctx, table, "/a/file.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, w.Close())

	gov := governor.New(gwtypes.DownloadSettings{MaxConcurrent: 1})
	gw := New(Options{Mounts: table, Gov: gov})

	r1, err := gw.OpenReader(ctx, ReadRequest{Path: "/a/file.txt", Proxy: true, Host: "example.com"})
	require.NoError(t, err)

	_, err = gw.OpenReader(ctx, ReadRequest{Path: "/a/file.txt", Proxy: true, Host: "example.com"})
	require.Error(t, err)
	require.True(t, gwerrors.IsCode(err, gwerrors.CodePolicyDenied))

	require.NoError(t, r1.Close())

	_, err = gw.OpenReader(ctx, ReadRequest{Path: "/a/file.txt", Proxy: true, Host: "example.com"})
	require.NoError(t, err)
}

func TestGatewayProxyDownloadRejectsWrongDomain(t *testing.T) {
	table, _, _ := newTable(t)
	ctx := context.Background()
	w, err := mustWriter(ctx, table, "/a/file.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, w.Close())

	gov := governor.New(gwtypes.DownloadSettings{DownloadDomain: "files.example.com"})
	gw := New(Options{Mounts: table, Gov: gov})

	_, err = gw.OpenReader(ctx, ReadRequest{Path: "/a/file.txt", Proxy: true, Host: "evil.example.com"})
	require.Error(t, err)
	require.True(t, gwerrors.IsCode(err, gwerrors.CodePolicyDenied))
}

func TestGatewayReplicaGroupSelectsViaBalancer(t *testing.T) {
	table := mount.NewTable()
	d1 := inmemory.New()
	d2 := inmemory.New()
	table.Add(gwtypes.Mount{ID: "rep1", MountPath: "/shared", Order: 0, Enabled: true}, d1)
	table.Add(gwtypes.Mount{ID: "rep2", MountPath: "/shared", Order: 1, Enabled: true}, d2)

	group := gwtypes.BalanceGroup{
		Name:    "shared",
		Mode:    gwtypes.ModeWeightedRoundRobin,
		Enabled: true,
		Drivers: []gwtypes.BalanceDriver{
			{DriverID: "rep1", Weight: 0},
			{DriverID: "rep2", Weight: 1},
		},
	}
	sel := balance.NewSelector(group, nil)
	gw := New(Options{Mounts: table, Groups: map[string]*balance.Selector{"/shared": sel}})

	// rep1 has weight 0, so every pick must land on rep2.
	for i := 0; i < 5; i++ {
		cand, err := gw.pickCandidate("/shared/x", "")
		require.NoError(t, err)
		require.Same(t, d2, cand.Driver)
	}
}

func TestGatewayMoveAcrossDriversRejected(t *testing.T) {
	table, _, _ := newTable(t)
	gw := New(Options{Mounts: table})
	ctx := context.Background()

	w, err := gw.OpenWriter(ctx, "/a/file.txt", 1, nil)
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, w.Close())

	err = gw.MoveItem(ctx, "/a/file.txt", "/a/b/file.txt")
	require.Error(t, err)
	require.True(t, gwerrors.IsCode(err, gwerrors.CodeUnsupported))
}

func TestGatewayHealthChecksRegisteredMounts(t *testing.T) {
	table, _, _ := newTable(t)
	gw := New(Options{Mounts: table, HealthCheck: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	gw.StartHealthChecks(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		return len(gw.Health()) == 2
	}, time.Second, time.Millisecond)

	for _, s := range gw.Health() {
		require.True(t, s.Healthy)
	}
}

func mustWriter(ctx context.Context, table *mount.Table, p string) (interface {
	io.Writer
	Close() error
}, error) {
	candidates := table.Resolve(p)
	return candidates[0].Driver.OpenWriter(ctx, candidates[0].LocalPath, int64(1), nil)
}

// rangelessDriver wraps inmemory.Driver but reports CanRangeRead=false, to
// exercise the gateway's capability check ahead of the driver call.
type rangelessDriver struct {
	*inmemory.Driver
}

func (d *rangelessDriver) Capabilities() gwtypes.Capability {
	c := d.Driver.Capabilities()
	c.CanRangeRead = false
	return c
}
