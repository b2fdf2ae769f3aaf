package mount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusgate/gateway/internal/driver"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

type stubDriver struct {
	name string
}

func (s *stubDriver) Name() string                              { return s.name }
func (s *stubDriver) Capabilities() gwtypes.Capability           { return gwtypes.Capability{} }
func (s *stubDriver) List(context.Context, string) ([]gwtypes.Entry, error) {
	return nil, nil
}
func (s *stubDriver) OpenReader(context.Context, string, *driver.ByteRange) (driver.ReadCloser, error) {
	return nil, nil
}
func (s *stubDriver) OpenWriter(context.Context, string, int64, driver.ProgressFunc) (driver.WriteCloser, error) {
	return nil, nil
}
func (s *stubDriver) Delete(context.Context, string) error     { return nil }
func (s *stubDriver) CreateDir(context.Context, string) error  { return nil }
func (s *stubDriver) Rename(context.Context, string, string) error { return nil }
func (s *stubDriver) MoveItem(context.Context, string, string) error { return nil }
func (s *stubDriver) CopyItem(context.Context, string, string) error { return nil }
func (s *stubDriver) GetDirectLink(context.Context, string) (string, error) { return "", nil }
func (s *stubDriver) GetSpaceInfo(context.Context) (*gwtypes.SpaceInfo, error) { return nil, nil }
func (s *stubDriver) HealthCheck(context.Context) error { return nil }

var _ driver.Driver = (*stubDriver)(nil)

func TestResolveLongestPrefix(t *testing.T) {
	table := NewTable()
	root := &stubDriver{name: "root"}
	docs := &stubDriver{name: "docs"}

	table.Add(gwtypes.Mount{ID: "1", MountPath: "/", Order: 0, Enabled: true}, root)
	table.Add(gwtypes.Mount{ID: "2", MountPath: "/docs", Order: 0, Enabled: true}, docs)

	candidates := table.Resolve("/docs/readme.txt")
	require.Len(t, candidates, 1)
	require.Equal(t, "docs", candidates[0].Driver.Name())
	require.Equal(t, "/readme.txt", candidates[0].LocalPath)

	candidates = table.Resolve("/other/file.txt")
	require.Len(t, candidates, 1)
	require.Equal(t, "root", candidates[0].Driver.Name())
	require.Equal(t, "/other/file.txt", candidates[0].LocalPath)
}

func TestResolveOrdersReplicasByOrder(t *testing.T) {
	table := NewTable()
	second := &stubDriver{name: "second"}
	first := &stubDriver{name: "first"}

	table.Add(gwtypes.Mount{ID: "1", MountPath: "/shared", Order: 2, Enabled: true}, second)
	table.Add(gwtypes.Mount{ID: "2", MountPath: "/shared", Order: 1, Enabled: true}, first)

	candidates := table.Resolve("/shared/x")
	require.Len(t, candidates, 2)
	require.Equal(t, "first", candidates[0].Driver.Name())
	require.Equal(t, "second", candidates[1].Driver.Name())
}

func TestDisabledMountIsInvisible(t *testing.T) {
	table := NewTable()
	table.Add(gwtypes.Mount{ID: "1", MountPath: "/off", Order: 0, Enabled: false}, &stubDriver{name: "off"})

	require.Empty(t, table.Resolve("/off/x"))
}

func TestVirtualDirsSynthesizedForUnmountedAncestor(t *testing.T) {
	table := NewTable()
	table.Add(gwtypes.Mount{ID: "1", MountPath: "/a/b", Order: 0, Enabled: true}, &stubDriver{name: "b"})

	dirs := table.VirtualDirs("/a")
	require.Equal(t, []string{"b"}, dirs)
}

func TestResolveForWritePicksFirstByOrder(t *testing.T) {
	table := NewTable()
	table.Add(gwtypes.Mount{ID: "1", MountPath: "/g", Order: 5, Enabled: true}, &stubDriver{name: "slow"})
	table.Add(gwtypes.Mount{ID: "2", MountPath: "/g", Order: 1, Enabled: true}, &stubDriver{name: "fast"})

	c, err := table.ResolveForWrite("/g/file")
	require.NoError(t, err)
	require.Equal(t, "fast", c.Driver.Name())
}

func TestResolveForWriteNotFound(t *testing.T) {
	table := NewTable()
	_, err := table.ResolveForWrite("/nowhere")
	require.Error(t, err)
}
