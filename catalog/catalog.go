// Package catalog implements the Tool Catalog (spec §4.3): an in-memory
// directory mapping tool-provider name to its current endpoint, declared
// tool list, and health state, kept current by periodic best-effort
// health probing.
package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/orcaforge/fleet/errs"
	"github.com/orcaforge/fleet/registry"
)

// ToolParameter describes one parameter of a declared tool.
type ToolParameter struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Required    bool           `json:"required"`
	Default     any            `json:"default,omitempty"`
	Enum        []string       `json:"enum,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"` // optional JSON Schema for the parameter
}

// ToolInfo is the declared shape of one tool a provider exposes.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}

// HealthState is a provider entry's last known health.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// Entry is one registered tool provider.
type Entry struct {
	Name      string
	Endpoint  string
	Tools     []ToolInfo
	Health    HealthState
	LastProbe time.Time
}

// HealthProbe checks whether a provider endpoint is reachable. Implemented
// by the providers package (the only component that knows how to reach a
// given provider's health surface); catalog only calls through this
// interface, keeping the two packages decoupled.
type HealthProbe interface {
	Probe(ctx context.Context, endpoint string) error
}

// Catalog is the process-wide Tool Catalog.
type Catalog struct {
	reg   *registry.Base[Entry]
	probe HealthProbe

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty Catalog. probe may be nil, in which case periodic
// health checks are disabled and entries remain at HealthUnknown.
func New(probe HealthProbe) *Catalog {
	return &Catalog{reg: registry.New[Entry](), probe: probe}
}

// Register adds or replaces a provider entry. Per spec §4.3, registration
// only becomes externally visible after the Provider Lifecycle Manager's
// first successful health probe — callers are expected to have already
// confirmed that before calling Register.
func (c *Catalog) Register(name, endpoint string, tools []ToolInfo) {
	c.reg.Register(name, Entry{
		Name:      name,
		Endpoint:  endpoint,
		Tools:     tools,
		Health:    HealthHealthy,
		LastProbe: time.Now(),
	})
}

// Deregister removes a provider entry. Per spec §4.3 the Provider
// Lifecycle Manager must call this strictly before stopping the
// underlying container.
func (c *Catalog) Deregister(name string) {
	c.reg.Remove(name)
}

// Resolve looks up a provider by name.
func (c *Catalog) Resolve(name string) (Entry, error) {
	e, ok := c.reg.Get(name)
	if !ok {
		return Entry{}, errs.New("catalog", "resolve", errs.KindUnknownProvider,
			"no provider registered with name "+name, nil)
	}
	return e, nil
}

// List returns every registered provider entry.
func (c *Catalog) List() []Entry {
	return c.reg.List()
}

// FindTool looks up toolName within the named provider's declared tools,
// returning that provider's entry and the tool. Used by the ReAct runtime to
// resolve a "{provider}__{tool}" qualified call back to its provider
// endpoint.
func (c *Catalog) FindTool(providerName, toolName string) (Entry, ToolInfo, error) {
	e, err := c.Resolve(providerName)
	if err != nil {
		return Entry{}, ToolInfo{}, err
	}
	for _, t := range e.Tools {
		if t.Name == toolName {
			return e, t, nil
		}
	}
	return Entry{}, ToolInfo{}, errs.New("catalog", "find_tool", errs.KindUnknownTool,
		"provider "+providerName+" has no tool named "+toolName, nil)
}

// Subscribe streams registration/deregistration changes, e.g. for an
// observability sidecar. The returned cancel func must be called to
// release the subscription.
func (c *Catalog) Subscribe(buffer int) (<-chan registry.Change[Entry], func()) {
	return c.reg.Subscribe(buffer)
}

// StartHealthLoop begins periodic best-effort health probing of every
// registered provider, marking entries HealthUnhealthy (but not removing
// them — only the Provider Lifecycle Manager deregisters) when a probe
// fails. Call Stop to end the loop.
func (c *Catalog) StartHealthLoop(interval time.Duration) {
	if c.probe == nil {
		return
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.probeAll(ctx)
			}
		}
	}()
}

func (c *Catalog) probeAll(ctx context.Context) {
	for _, e := range c.reg.List() {
		state := HealthHealthy
		if err := c.probe.Probe(ctx, e.Endpoint); err != nil {
			state = HealthUnhealthy
		}
		e.Health = state
		e.LastProbe = time.Now()
		c.reg.Register(e.Name, e)
	}
}

// Stop ends the health-probe loop, if running, and waits for it to exit.
func (c *Catalog) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}
