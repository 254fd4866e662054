// Package providers implements the Provider Lifecycle Manager (spec
// §4.3): install/start/stop/restart/update/uninstall of tool and trigger
// providers, each modeled as a subprocess speaking the go-plugin net/rpc
// protocol, plus reconciliation against a persisted installation
// manifest on boot.
package providers

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	goplugin "github.com/hashicorp/go-plugin"
	"github.com/hashicorp/go-hclog"

	"github.com/orcaforge/fleet/catalog"
	"github.com/orcaforge/fleet/errs"
	"github.com/orcaforge/fleet/observability"
)

// running tracks one live provider subprocess.
type running struct {
	client   *goplugin.Client
	provider ToolProvider
}

// Manager is the Provider Lifecycle Manager.
type Manager struct {
	catalog  *catalog.Catalog
	manifest *Manifest
	logger   hclog.Logger

	// HealthMetrics, if set, receives a provider_health gauge update on
	// every Probe call. Left nil by NewManager so a Manager built without
	// an Orchestrator (e.g. a standalone installer tool) never pays for
	// metrics it won't scrape.
	HealthMetrics *observability.Metrics

	mu    sync.Mutex
	procs map[string]*running
}

// NewManager creates a Manager backed by cat for tool registration and
// persisting installations to manifestPath.
func NewManager(cat *catalog.Catalog, manifestPath string) (*Manager, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("providers: load manifest: %w", err)
	}
	return &Manager{
		catalog:  cat,
		manifest: m,
		logger: hclog.New(&hclog.LoggerOptions{
			Name:  "fleet-provider",
			Level: hclog.Warn,
		}),
		procs: make(map[string]*running),
	}, nil
}

// Install records a provider's binary path without starting it.
func (m *Manager) Install(name, path string, env map[string]string) error {
	return m.manifest.Put(InstalledProvider{Name: name, Path: path, Env: env, Enabled: true})
}

// Start launches a provider subprocess, verifies its handshake, discovers
// its tools, and — only on success — registers it in the catalog. A
// failed health check here never partially registers a provider, per
// spec §4.3's atomic-registration invariant.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	if _, already := m.procs[name]; already {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	entry, ok := m.findEntry(name)
	if !ok {
		return errs.New("providers", "start", errs.KindUnknownProvider,
			"no installation recorded for "+name, nil)
	}

	cmd := exec.Command(entry.Path)
	for k, v := range entry.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          pluginMap(nil),
		Cmd:              cmd,
		Logger:           m.logger,
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return errs.New("providers", "start", errs.KindTransportFailure,
			"failed to connect to provider "+name, err)
	}

	raw, err := rpcClient.Dispense("provider")
	if err != nil {
		client.Kill()
		return errs.New("providers", "start", errs.KindTransportFailure,
			"failed to dispense provider "+name, err)
	}
	provider, ok := raw.(ToolProvider)
	if !ok {
		client.Kill()
		return errs.New("providers", "start", errs.KindConfigurationError,
			name+" does not implement the tool-provider interface", nil)
	}

	if err := provider.Health(); err != nil {
		client.Kill()
		return errs.New("providers", "start", errs.KindTransportFailure,
			"provider "+name+" failed its initial health check", err)
	}

	tools, err := provider.DiscoverTools()
	if err != nil {
		client.Kill()
		return errs.New("providers", "start", errs.KindTransportFailure,
			"provider "+name+" failed tool discovery", err)
	}

	m.mu.Lock()
	m.procs[name] = &running{client: client, provider: provider}
	m.mu.Unlock()

	m.catalog.Register(name, name, tools)
	return nil
}

// Stop deregisters a provider from the catalog (strictly before killing
// its subprocess, per spec §4.3) and terminates it.
func (m *Manager) Stop(name string) error {
	m.catalog.Deregister(name)

	m.mu.Lock()
	r, ok := m.procs[name]
	delete(m.procs, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	r.client.Kill()
	return nil
}

// Restart stops then starts a provider.
func (m *Manager) Restart(ctx context.Context, name string) error {
	if err := m.Stop(name); err != nil {
		return err
	}
	return m.Start(ctx, name)
}

// Update replaces an installed provider's binary path, then restarts it
// if it was running.
func (m *Manager) Update(ctx context.Context, name, newPath string) error {
	entry, ok := m.findEntry(name)
	if !ok {
		return errs.New("providers", "update", errs.KindUnknownProvider,
			"no installation recorded for "+name, nil)
	}
	entry.Path = newPath
	if err := m.manifest.Put(entry); err != nil {
		return err
	}

	m.mu.Lock()
	_, wasRunning := m.procs[name]
	m.mu.Unlock()
	if wasRunning {
		return m.Restart(ctx, name)
	}
	return nil
}

// Uninstall stops a running provider (if any) and removes its
// installation record.
func (m *Manager) Uninstall(name string) error {
	if err := m.Stop(name); err != nil {
		return err
	}
	return m.manifest.Delete(name)
}

// ReconcileOnBoot starts every enabled installed provider. Failures are
// collected and returned together rather than aborting the whole
// reconciliation, so one bad provider doesn't block the rest from
// coming up.
func (m *Manager) ReconcileOnBoot(ctx context.Context) []error {
	var errsOut []error
	for _, entry := range m.manifest.List() {
		if !entry.Enabled {
			continue
		}
		if err := m.Start(ctx, entry.Name); err != nil {
			errsOut = append(errsOut, fmt.Errorf("reconcile %s: %w", entry.Name, err))
		}
	}
	return errsOut
}

// Probe implements catalog.HealthProbe by looking up the live subprocess
// for endpoint (here, the provider name) and invoking its Health method.
func (m *Manager) Probe(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	r, ok := m.procs[endpoint]
	m.mu.Unlock()
	if !ok {
		m.recordHealth(endpoint, false)
		return errs.New("providers", "probe", errs.KindUnknownProvider, "not running: "+endpoint, nil)
	}
	err := r.provider.Health()
	m.recordHealth(endpoint, err == nil)
	return err
}

func (m *Manager) recordHealth(name string, healthy bool) {
	if m.HealthMetrics != nil {
		m.HealthMetrics.SetProviderHealth(name, healthy)
	}
}

func (m *Manager) findEntry(name string) (InstalledProvider, bool) {
	for _, e := range m.manifest.List() {
		if e.Name == name {
			return e, true
		}
	}
	return InstalledProvider{}, false
}

// Shutdown stops every running provider. Intended for process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	names := make([]string, 0, len(m.procs))
	for name := range m.procs {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.Stop(name)
	}
}
