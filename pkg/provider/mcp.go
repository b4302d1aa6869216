package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
)

// mcpConnection adapts an mcp-go client to Connection.
type mcpConnection struct {
	lifecycle
	id        string
	transport Transport
	client    *client.Client
}

func dialMCP(ctx context.Context, cfg Config) (*mcpConnection, error) {
	var (
		c   *client.Client
		err error
	)

	switch cfg.Transport {
	case TransportStdio:
		// The stdio client spawns the process and starts reading on construction.
		c, err = client.NewStdioMCPClientWithOptions(cfg.Command, cfg.environ(), cfg.Args)
		if err != nil {
			return nil, fmt.Errorf("spawn %s: %w", cfg.Command, err)
		}
	case TransportSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		c, err = client.NewSSEMCPClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		// The event stream outlives the handshake deadline.
		if err := c.Start(context.WithoutCancel(ctx)); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("start sse transport: %w", err)
		}
	case TransportHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err = client.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := c.Start(context.WithoutCancel(ctx)); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("start http transport: %w", err)
		}
	default:
		return nil, fmt.Errorf("transport %q is not an MCP transport", cfg.Transport)
	}

	return initializeMCP(ctx, cfg.ID, cfg.Transport, c)
}

// initializeMCP runs the handshake on an already started client. On failure
// the client is closed.
func initializeMCP(ctx context.Context, id string, kind Transport, c *client.Client) (*mcpConnection, error) {
	conn := &mcpConnection{id: id, transport: kind, client: c}
	conn.set(StateConnecting)

	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    ClientName,
				Version: ClientVersion,
			},
		},
	})
	if err != nil {
		conn.set(StateDisconnected)
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	conn.set(StateConnected)
	log.Debug().Str("provider", id).Str("transport", string(kind)).Msg("Provider connected")
	return conn, nil
}

func (c *mcpConnection) ID() string           { return c.id }
func (c *mcpConnection) Transport() Transport { return c.transport }

func (c *mcpConnection) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	res, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  mcpInputSchema(t),
			Provider:    c.id,
		})
	}
	return tools, nil
}

func (c *mcpConnection) Call(ctx context.Context, name string, args map[string]any) (*Result, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	res, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	return mcpResult(res), nil
}

func (c *mcpConnection) Close() error {
	if !c.markClosed() {
		return nil
	}
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// mcpInputSchema reads the schema through the tool's own JSON encoding, which
// already prefers a raw schema over the structured one.
func mcpInputSchema(t mcp.Tool) map[string]any {
	data, err := json.Marshal(t)
	if err != nil {
		return normalizeSchema(nil)
	}
	var wire struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return normalizeSchema(nil)
	}
	return normalizeSchema(wire.InputSchema)
}

func mcpResult(res *mcp.CallToolResult) *Result {
	if res == nil {
		return &Result{}
	}
	var parts []string
	for _, content := range res.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
			continue
		}
		if img, ok := mcp.AsImageContent(content); ok {
			parts = append(parts, fmt.Sprintf("[image %s]", img.MIMEType))
		}
	}
	return &Result{
		Text:       strings.Join(parts, "\n"),
		Structured: res.StructuredContent,
		IsError:    res.IsError,
	}
}
