package toolclient

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/orcaforge/fleet/errs"
)

// MCPTransport speaks the Model Context Protocol over stdio to a
// subprocess-backed tool provider, grounded on the teacher's
// mcptoolset.Toolset stdio path. One MCPTransport keeps one live MCP
// client session per provider endpoint (here, a command line).
type MCPTransport struct {
	clients map[string]*client.Client
}

// NewMCPTransport creates an empty transport; clients are connected
// lazily per-endpoint on first Call.
func NewMCPTransport() *MCPTransport {
	return &MCPTransport{clients: make(map[string]*client.Client)}
}

// Call connects to endpoint (a stdio command line) if not already
// connected, then invokes tool with arguments.
func (t *MCPTransport) Call(ctx context.Context, endpoint, toolName string, arguments map[string]any) (map[string]any, error) {
	c, ok := t.clients[endpoint]
	if !ok {
		conn, err := client.NewStdioMCPClient(endpoint, nil)
		if err != nil {
			return nil, errs.New("toolclient", "mcp_connect", errs.KindTransportFailure,
				"failed to start MCP provider at "+endpoint, err)
		}
		if err := conn.Start(ctx); err != nil {
			return nil, errs.New("toolclient", "mcp_connect", errs.KindTransportFailure,
				"failed to start MCP provider at "+endpoint, err)
		}
		initReq := mcp.InitializeRequest{}
		initReq.Params.ClientInfo = mcp.Implementation{Name: "fleet", Version: "0.1.0-alpha"}
		initReq.Params.ProtocolVersion = "2024-11-05"
		if _, err := conn.Initialize(ctx, initReq); err != nil {
			conn.Close()
			return nil, errs.New("toolclient", "mcp_connect", errs.KindTransportFailure,
				"failed to initialize MCP provider at "+endpoint, err)
		}
		t.clients[endpoint] = conn
		c = conn
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = arguments

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, errs.New("toolclient", "mcp_call", errs.KindTransportFailure,
			fmt.Sprintf("MCP call to %s failed", toolName), err)
	}
	return parseMCPResult(resp)
}

func parseMCPResult(resp *mcp.CallToolResult) (map[string]any, error) {
	result := make(map[string]any)
	if resp.IsError {
		msg := "unknown provider error"
		for _, content := range resp.Content {
			if tc, ok := content.(mcp.TextContent); ok {
				msg = tc.Text
				break
			}
		}
		return nil, errs.New("toolclient", "mcp_call", errs.KindProviderReportedErr, msg, nil)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	return result, nil
}

// Close shuts down every connected MCP client.
func (t *MCPTransport) Close() error {
	var firstErr error
	for _, c := range t.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
