package tools

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kinra-ai/kin-code/pkg/core"
)

const (
	defaultMCPStartupTimeout = 8 * time.Second
	defaultMCPCallTimeout    = 30 * time.Second
	maxToolNameLength        = 64
)

var toolNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// MCPServerConfig is one configured MCP server entry (stdio command or
// remote HTTP/SSE endpoint).
type MCPServerConfig struct {
	Name             string
	Enabled          bool
	Transport        string // "command" | "streamable_http" | "sse"
	Command          string
	Args             []string
	URL              string
	StartupTimeoutMS int
	CallTimeoutMS    int
}

// LoadMCPTools discovers tools from every enabled MCP server and adapts
// each into a tools.Tool, namespaced by server name to avoid collisions.
// Discovery is best-effort across servers: one server's failure doesn't
// block the others. Grounded on the teacher's pkg/tools/mcp.go
// LoadMCPTools/mcpClient.
func LoadMCPTools(ctx context.Context, servers []MCPServerConfig) ([]Tool, error) {
	used := make(map[string]int)
	var loaded []Tool
	var errs []string

	for _, server := range servers {
		if !server.Enabled {
			continue
		}
		serverTools, err := loadMCPServerTools(ctx, server, used)
		loaded = append(loaded, serverTools...)
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return loaded, fmt.Errorf("mcp discovery errors: %s", strings.Join(errs, "; "))
	}
	return loaded, nil
}

func loadMCPServerTools(ctx context.Context, server MCPServerConfig, used map[string]int) ([]Tool, error) {
	client := newMCPClient(server)

	startupTimeout := server.StartupTimeoutMS
	if startupTimeout == 0 {
		startupTimeout = int(defaultMCPStartupTimeout / time.Millisecond)
	}
	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(startupTimeout)*time.Millisecond)
	defer cancel()

	remoteTools, err := client.ListTools(connectCtx)
	if err != nil {
		return nil, fmt.Errorf("mcp server %q discovery failed: %w", server.Name, err)
	}

	callTimeout := time.Duration(server.CallTimeoutMS) * time.Millisecond
	if callTimeout == 0 {
		callTimeout = defaultMCPCallTimeout
	}

	loaded := make([]Tool, 0, len(remoteTools))
	for _, rt := range remoteTools {
		if rt == nil || strings.TrimSpace(rt.Name) == "" {
			continue
		}
		loaded = append(loaded, &MCPTool{
			localName:   buildLocalToolName(server.Name, rt.Name, used),
			remoteName:  rt.Name,
			description: fmt.Sprintf("[%s] %s", server.Name, rt.Description),
			schema:      normalizeMCPInputSchema(rt.InputSchema),
			callTimeout: callTimeout,
			client:      client,
		})
	}
	return loaded, nil
}

func buildLocalToolName(server, remote string, used map[string]int) string {
	name := sanitizeToolName(server) + "__" + sanitizeToolName(remote)
	if len(name) > maxToolNameLength {
		name = name[:maxToolNameLength]
	}
	used[name]++
	if used[name] > 1 {
		name = fmt.Sprintf("%s_%d", name, used[name])
	}
	return name
}

func sanitizeToolName(name string) string {
	return toolNameSanitizer.ReplaceAllString(strings.TrimSpace(name), "_")
}

func normalizeMCPInputSchema(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// MCPTool adapts one remote MCP tool to the local Tool contract.
type MCPTool struct {
	localName   string
	remoteName  string
	description string
	schema      map[string]any
	callTimeout time.Duration
	client      *mcpClient
}

func (t *MCPTool) Describe() Description {
	return Description{Name: t.localName, Description: t.description, Schema: t.schema}
}

func (t *MCPTool) Validate(rawArgs map[string]any) (any, error) {
	return rawArgs, nil
}

func (t *MCPTool) CheckAllowlistDenylist(args any) core.ToolPermission {
	return core.PermissionUnset
}

func (t *MCPTool) Invoke(ctx InvokeContext, args any) (<-chan StreamItem, error) {
	argMap, _ := args.(map[string]any)
	out := make(chan StreamItem, 1)
	go func() {
		defer close(out)
		callCtx, cancel := context.WithTimeout(ctx.Context, t.callTimeout)
		defer cancel()

		text, err := t.client.CallTool(callCtx, t.remoteName, argMap)
		if err != nil {
			out <- StreamItem{Kind: StreamDone, Result: ErrorResult(fmt.Sprintf("mcp call failed: %s", err), &ToolError{Message: err.Error()})}
			return
		}
		out <- StreamItem{Kind: StreamDone, Result: NewResult(text)}
	}()
	return out, nil
}

func (t *MCPTool) GetCallDisplay(args any) string {
	return fmt.Sprintf("%s(%s)", t.localName, t.remoteName)
}

func (t *MCPTool) GetResultDisplay(result Result) string {
	return result.ForLLM
}

// mcpClient wraps one server connection, reconnecting per call (matching
// the teacher's connect-per-call mcpClient rather than holding a
// long-lived session, since tool invocations here are infrequent enough
// that reconnect overhead doesn't matter).
type mcpClient struct {
	server MCPServerConfig
	client *mcp.Client
}

func newMCPClient(server MCPServerConfig) *mcpClient {
	name := server.Name
	if name == "" {
		name = "kin-code-mcp"
	}
	return &mcpClient{
		server: server,
		client: mcp.NewClient(&mcp.Implementation{Name: "kin-code-" + sanitizeToolName(name), Version: "v1"}, nil),
	}
}

func (c *mcpClient) connect(ctx context.Context) (*mcp.ClientSession, error) {
	transport, err := c.buildTransport()
	if err != nil {
		return nil, err
	}
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %q: %w", c.server.Name, err)
	}
	return session, nil
}

func (c *mcpClient) buildTransport() (mcp.Transport, error) {
	transport := strings.ToLower(strings.TrimSpace(c.server.Transport))
	if transport == "" {
		transport = "command"
	}

	switch transport {
	case "command":
		if c.server.Command == "" {
			return nil, fmt.Errorf("mcp server %q: command is required for command transport", c.server.Name)
		}
		return &mcp.CommandTransport{Command: exec.Command(c.server.Command, c.server.Args...)}, nil
	case "streamable_http":
		if c.server.URL == "" {
			return nil, fmt.Errorf("mcp server %q: url is required for streamable_http transport", c.server.Name)
		}
		return &mcp.StreamableClientTransport{Endpoint: c.server.URL}, nil
	case "sse":
		if c.server.URL == "" {
			return nil, fmt.Errorf("mcp server %q: url is required for sse transport", c.server.Name)
		}
		return &mcp.SSEClientTransport{Endpoint: c.server.URL}, nil
	default:
		return nil, fmt.Errorf("mcp server %q: unsupported transport %q", c.server.Name, c.server.Transport)
	}
}

func (c *mcpClient) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var all []*mcp.Tool
	cursor := ""
	for {
		params := &mcp.ListToolsParams{}
		if cursor != "" {
			params.Cursor = cursor
		}
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	return all, nil
}

func (c *mcpClient) CallTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call tool %q: %w", toolName, err)
	}
	return formatMCPResult(result), nil
}

func formatMCPResult(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
