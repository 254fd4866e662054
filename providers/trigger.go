package providers

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"
	"sync"

	goplugin "github.com/hashicorp/go-plugin"

	"github.com/orcaforge/fleet/errs"
)

// TriggerProvider is what a trigger subprocess implements: it watches an
// external source (webhook, schedule, event feed) and, on activation,
// calls back into the engine via the target binding it was started with.
type TriggerProvider interface {
	Health() error
}

// TriggerBinding names which agent, team, or workflow a trigger's
// activation should invoke, injected into the subprocess environment at
// start time (spec §4.3's "trigger target binding").
type TriggerBinding struct {
	TargetKind string // agent | team | workflow
	TargetID   string
	CallbackURL string
}

func (b TriggerBinding) envVars() map[string]string {
	return map[string]string{
		"FLEET_TARGET_KIND": b.TargetKind,
		"FLEET_TARGET_ID":   b.TargetID,
		"FLEET_CALLBACK_URL": b.CallbackURL,
	}
}

// TriggerManager is the Trigger Lifecycle Manager, structurally identical
// to Manager but without a Tool Catalog registration step — a trigger has
// no declared tools, only a health surface and a running subprocess.
type TriggerManager struct {
	manifest *Manifest

	mu    sync.Mutex
	procs map[string]*goplugin.Client
}

// NewTriggerManager creates a TriggerManager persisting installations to
// manifestPath.
func NewTriggerManager(manifestPath string) (*TriggerManager, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("providers: load trigger manifest: %w", err)
	}
	return &TriggerManager{manifest: m, procs: make(map[string]*goplugin.Client)}, nil
}

// Install records a trigger provider's binary path and target binding.
func (t *TriggerManager) Install(name, path string, binding TriggerBinding) error {
	return t.manifest.Put(InstalledProvider{Name: name, Path: path, Env: binding.envVars(), Enabled: true})
}

// Start launches a trigger subprocess with its target binding injected as
// environment variables.
func (t *TriggerManager) Start(ctx context.Context, name string) error {
	t.mu.Lock()
	if _, already := t.procs[name]; already {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	entry, ok := t.findEntry(name)
	if !ok {
		return errs.New("providers", "trigger_start", errs.KindUnknownProvider,
			"no installation recorded for trigger "+name, nil)
	}

	cmd := exec.Command(entry.Path)
	for k, v := range entry.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          map[string]goplugin.Plugin{"trigger": &triggerProviderPlugin{}},
		Cmd:              cmd,
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})

	if _, err := client.Client(); err != nil {
		client.Kill()
		return errs.New("providers", "trigger_start", errs.KindTransportFailure,
			"failed to connect to trigger "+name, err)
	}

	t.mu.Lock()
	t.procs[name] = client
	t.mu.Unlock()
	return nil
}

// Stop terminates a trigger subprocess.
func (t *TriggerManager) Stop(name string) error {
	t.mu.Lock()
	client, ok := t.procs[name]
	delete(t.procs, name)
	t.mu.Unlock()
	if ok {
		client.Kill()
	}
	return nil
}

// Uninstall stops a trigger (if running) and removes its installation
// record.
func (t *TriggerManager) Uninstall(name string) error {
	if err := t.Stop(name); err != nil {
		return err
	}
	return t.manifest.Delete(name)
}

// ReconcileOnBoot starts every enabled installed trigger.
func (t *TriggerManager) ReconcileOnBoot(ctx context.Context) []error {
	var out []error
	for _, entry := range t.manifest.List() {
		if !entry.Enabled {
			continue
		}
		if err := t.Start(ctx, entry.Name); err != nil {
			out = append(out, fmt.Errorf("reconcile trigger %s: %w", entry.Name, err))
		}
	}
	return out
}

func (t *TriggerManager) findEntry(name string) (InstalledProvider, bool) {
	for _, e := range t.manifest.List() {
		if e.Name == name {
			return e, true
		}
	}
	return InstalledProvider{}, false
}

// triggerProviderPlugin is the minimal net/rpc plugin shape for triggers:
// no methods are dispatched host-to-subprocess beyond the handshake
// itself, since activation flows subprocess-to-host over the callback
// URL rather than through an RPC the host initiates.
type triggerProviderPlugin struct{}

func (p *triggerProviderPlugin) Server(*goplugin.MuxBroker) (any, error) {
	return nil, fmt.Errorf("trigger providers do not expose a host-side server")
}

func (p *triggerProviderPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (any, error) {
	return struct{}{}, nil
}
