package providers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/orcaforge/fleet/catalog"
	"github.com/orcaforge/fleet/errs"
	"github.com/stretchr/testify/require"
)

func TestStartUnknownProviderIsTaggedError(t *testing.T) {
	cat := catalog.New(nil)
	m, err := NewManager(cat, filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)

	err = m.Start(context.Background(), "ghost")
	require.Error(t, err)
	require.Equal(t, errs.KindUnknownProvider, errs.KindOf(err))
}

func TestProbeNotRunningProviderIsTaggedError(t *testing.T) {
	cat := catalog.New(nil)
	m, err := NewManager(cat, filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)

	err = m.Probe(context.Background(), "ghost")
	require.Error(t, err)
	require.Equal(t, errs.KindUnknownProvider, errs.KindOf(err))
}

func TestStopUnknownProviderIsNoop(t *testing.T) {
	cat := catalog.New(nil)
	m, err := NewManager(cat, filepath.Join(t.TempDir(), "manifest.json"))
	require.NoError(t, err)

	require.NoError(t, m.Stop("ghost"))
}

func TestReconcileOnBootSkipsDisabledEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	cat := catalog.New(nil)
	m, err := NewManager(cat, path)
	require.NoError(t, err)

	require.NoError(t, m.manifest.Put(InstalledProvider{Name: "disabled", Path: "/bin/nope", Enabled: false}))

	errsOut := m.ReconcileOnBoot(context.Background())
	require.Empty(t, errsOut)
}
