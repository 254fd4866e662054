package providers

import (
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"

	"github.com/orcaforge/fleet/catalog"
)

// ToolProvider is what a provider subprocess implements. Grounded on the
// teacher's plugins/types.go Plugin interface (Initialize/Shutdown/
// GetManifest/GetStatus/Health), narrowed to the tool-provider surface
// spec §4.3 names: tool discovery and invocation, plus a liveness check.
type ToolProvider interface {
	DiscoverTools() ([]catalog.ToolInfo, error)
	CallTool(name string, arguments map[string]any) (map[string]any, error)
	Health() error
}

// ToolProviderPlugin adapts a ToolProvider to hashicorp/go-plugin's
// net/rpc transport, the same mechanism the teacher's GRPCLoader uses for
// gRPC-protocol plugins — here using the library's plainer net/rpc
// protocol, since tool providers exchange simple request/response pairs
// with no streaming requirement.
type ToolProviderPlugin struct {
	Impl ToolProvider
}

func (p *ToolProviderPlugin) Server(*goplugin.MuxBroker) (any, error) {
	return &toolProviderRPCServer{impl: p.Impl}, nil
}

func (p *ToolProviderPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &toolProviderRPCClient{client: c}, nil
}

// --- server-side stub (runs inside the provider subprocess) ---

type toolProviderRPCServer struct {
	impl ToolProvider
}

func (s *toolProviderRPCServer) DiscoverTools(_ struct{}, resp *[]catalog.ToolInfo) error {
	tools, err := s.impl.DiscoverTools()
	*resp = tools
	return err
}

type callToolArgs struct {
	Name      string
	Arguments map[string]any
}

func (s *toolProviderRPCServer) CallTool(args callToolArgs, resp *map[string]any) error {
	result, err := s.impl.CallTool(args.Name, args.Arguments)
	*resp = result
	return err
}

func (s *toolProviderRPCServer) Health(_ struct{}, _ *struct{}) error {
	return s.impl.Health()
}

// --- client-side stub (runs in this process, talks to the subprocess) ---

type toolProviderRPCClient struct {
	client *rpc.Client
}

func (c *toolProviderRPCClient) DiscoverTools() ([]catalog.ToolInfo, error) {
	var resp []catalog.ToolInfo
	err := c.client.Call("Plugin.DiscoverTools", struct{}{}, &resp)
	return resp, err
}

func (c *toolProviderRPCClient) CallTool(name string, arguments map[string]any) (map[string]any, error) {
	var resp map[string]any
	err := c.client.Call("Plugin.CallTool", callToolArgs{Name: name, Arguments: arguments}, &resp)
	return resp, err
}

func (c *toolProviderRPCClient) Health() error {
	return c.client.Call("Plugin.Health", struct{}{}, new(struct{}))
}

// HandshakeConfig verifies the host and a provider subprocess speak the
// same protocol version before any RPC is attempted, matching the
// teacher's plugins/grpc handshakeConfig convention.
var HandshakeConfig = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "FLEET_PROVIDER",
	MagicCookieValue: "fleet_provider_v1",
}

func pluginMap(impl ToolProvider) map[string]goplugin.Plugin {
	return map[string]goplugin.Plugin{
		"provider": &ToolProviderPlugin{Impl: impl},
	}
}
