package providers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestRoundTripsThroughDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Empty(t, m.List())

	require.NoError(t, m.Put(InstalledProvider{Name: "nmap", Path: "/bin/nmap-provider", Enabled: true}))

	reloaded, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, reloaded.List(), 1)
	require.Equal(t, "nmap", reloaded.List()[0].Name)
}

func TestManifestDeleteRemovesEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	m, err := LoadManifest(path)
	require.NoError(t, err)

	require.NoError(t, m.Put(InstalledProvider{Name: "nmap", Path: "/bin/nmap-provider"}))
	require.NoError(t, m.Delete("nmap"))
	require.Empty(t, m.List())
}

func TestLoadManifestMissingFileIsEmptyNotError(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.Empty(t, m.List())
}
