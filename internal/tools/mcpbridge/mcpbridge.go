// Package mcpbridge adapts a remote MCP server's tools into
// tools.ClientTool registry entries.
//
// Grounded on HyphaGroup-oubliette's test/pkg/client/mcp.go (MCPClient:
// mcp.NewClient, mcp.StreamableClientTransport, session.ListTools,
// session.CallTool) for the connect/list/invoke shape, and
// cmd/oubliette-client/main.go's registerCallerTool for the
// marshal-then-unmarshal conversion of a raw MCP inputSchema map into a
// *jsonschema.Schema the tools package expects.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aguicore/runtime/internal/tools"
)

// Client wraps one MCP server connection.
type Client struct {
	serverURL string
	authToken string
	client    *mcp.Client
	session   *mcp.ClientSession
}

func New(serverURL, authToken string) *Client {
	return &Client{serverURL: serverURL, authToken: authToken}
}

type authTransport struct {
	base  http.RoundTripper
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

// Connect opens the MCP session. Must be called before ListAndRegister.
func (c *Client) Connect(ctx context.Context) error {
	c.client = mcp.NewClient(&mcp.Implementation{Name: "aguicore-runtime", Version: "0.1.0"}, nil)

	httpClient := &http.Client{Timeout: 0}
	if c.authToken != "" {
		httpClient.Transport = &authTransport{base: http.DefaultTransport, token: c.authToken}
	}
	transport := &mcp.StreamableClientTransport{Endpoint: c.serverURL, HTTPClient: httpClient}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcpbridge: connect %s: %w", c.serverURL, err)
	}
	c.session = session
	return nil
}

func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

// ListAndRegister lists every tool on the server and registers each into
// reg under source "mcp", returning the extended registry. A tool whose
// schema fails to decode is skipped, not fatal, since one malformed
// server-advertised tool shouldn't block the rest.
func (c *Client) ListAndRegister(ctx context.Context, reg tools.Registry, priority int) (tools.Registry, error) {
	if c.session == nil {
		return reg, fmt.Errorf("mcpbridge: not connected")
	}
	result, err := c.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return reg, fmt.Errorf("mcpbridge: list tools: %w", err)
	}

	next := reg
	for _, t := range result.Tools {
		schema, err := decodeSchema(t.InputSchema)
		if err != nil {
			continue
		}
		def := tools.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
			Source:      "mcp",
			Priority:    priority,
		}
		next, err = next.Register(def, &invoker{client: c, name: t.Name})
		if err != nil {
			return reg, fmt.Errorf("mcpbridge: register %q: %w", t.Name, err)
		}
	}
	return next, nil
}

func decodeSchema(raw any) (*jsonschema.Schema, error) {
	if raw == nil {
		return &jsonschema.Schema{Type: "object"}, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(b, schema); err != nil {
		return nil, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

// invoker implements tools.Executor by round-tripping one call through the
// MCP session's CallTool.
type invoker struct {
	client *Client
	name   string
}

func (i *invoker) Execute(ctx context.Context, toolCallID, name, rawArgs string) (string, error) {
	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", fmt.Errorf("mcpbridge: decode arguments: %w", err)
		}
	}
	result, err := i.client.session.CallTool(ctx, &mcp.CallToolParams{Name: i.name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcpbridge: call %q: %w", i.name, err)
	}
	text := extractText(result.Content)
	if result.IsError {
		return "", fmt.Errorf("mcpbridge: %q reported an error: %s", i.name, text)
	}
	return text, nil
}

func extractText(content []mcp.Content) string {
	var b strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
