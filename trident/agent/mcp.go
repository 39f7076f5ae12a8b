package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
)

const mcpProtocolVersion = "2024-11-05"

// MCPClient speaks the Model Context Protocol to one server subprocess over
// newline-delimited JSON-RPC on its stdin/stdout.
type MCPClient struct {
	server string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    *bufio.Scanner

	mu     sync.Mutex
	nextID int
}

type mcpMessage struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id,omitempty"`
	Method  string `json:"method,omitempty"`
	Params  any    `json:"params,omitempty"`
}

type mcpResponse struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *mcpError       `json:"error"`
}

type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DialMCP launches the server process and performs the initialize handshake.
func DialMCP(ctx context.Context, server string, spec MCPServerSpec) (*MCPClient, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Env = os.Environ()
	for _, key := range sortedEnvKeys(spec.Env) {
		cmd.Env = append(cmd.Env, key+"="+spec.Env[key])
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp %s: %w", server, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp %s: %w", server, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp %s: start %s: %w", server, spec.Command, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	c := &MCPClient{server: server, cmd: cmd, stdin: stdin, out: scanner}
	params := map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "trident", "version": "0.3.0"},
	}
	if _, err := c.call("initialize", params); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp %s: initialize: %w", server, err)
	}
	if err := c.notify("notifications/initialized"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp %s: %w", server, err)
	}
	return c, nil
}

// ListTools returns the server's tools with their bare names.
func (c *MCPClient) ListTools() ([]ToolSpec, error) {
	raw, err := c.call("tools/list", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("mcp %s: list tools: %w", c.server, err)
	}
	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp %s: list tools: %w", c.server, err)
	}
	specs := make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		specs = append(specs, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return specs, nil
}

// CallTool invokes a server tool and returns its concatenated text content.
// The bool reports whether the server flagged the result as an error.
func (c *MCPClient) CallTool(name string, args map[string]any) (string, bool, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.call("tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", false, fmt.Errorf("mcp %s: call %s: %w", c.server, name, err)
	}
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", false, fmt.Errorf("mcp %s: call %s: %w", c.server, name, err)
	}
	var sb strings.Builder
	for _, part := range result.Content {
		if part.Type != "text" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part.Text)
	}
	return sb.String(), result.IsError, nil
}

// Close shuts the server down by closing its stdin; MCP servers exit on EOF.
func (c *MCPClient) Close() error {
	_ = c.stdin.Close()
	return c.cmd.Wait()
}

// call performs one request/response round trip. Server-initiated messages
// (no id, or a different id) are skipped while waiting for the reply.
func (c *MCPClient) call(method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	if err := c.send(mcpMessage{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	for c.out.Scan() {
		line := c.out.Bytes()
		var resp mcpResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID == nil || *resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s (code %d)", resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	}
	if err := c.out.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("server closed the connection")
}

func (c *MCPClient) notify(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(mcpMessage{JSONRPC: "2.0", Method: method})
}

func (c *MCPClient) send(msg mcpMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

// mcpToolName is how MCP tools appear to the model: mcp__<server>__<tool>.
// The prefix keeps them from colliding with project tools.
func mcpToolName(server, tool string) string {
	return "mcp__" + server + "__" + tool
}

// mcpToolset aggregates the tools of every configured server for one agent
// execution.
type mcpToolset struct {
	clients map[string]*MCPClient
	specs   []ToolSpec
}

// connectMCPServers launches every configured server and lists its tools.
func connectMCPServers(ctx context.Context, servers map[string]MCPServerSpec) (*mcpToolset, error) {
	ts := &mcpToolset{clients: make(map[string]*MCPClient)}
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		client, err := DialMCP(ctx, name, servers[name])
		if err != nil {
			ts.Close()
			return nil, err
		}
		ts.clients[name] = client

		tools, err := client.ListTools()
		if err != nil {
			ts.Close()
			return nil, err
		}
		for _, t := range tools {
			ts.specs = append(ts.specs, ToolSpec{
				Name:        mcpToolName(name, t.Name),
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	return ts, nil
}

// Call routes a prefixed tool name to its server. The final bool reports
// whether the name belonged to this toolset at all.
func (ts *mcpToolset) Call(name string, args map[string]any) (string, bool, bool) {
	rest, found := strings.CutPrefix(name, "mcp__")
	if !found {
		return "", false, false
	}
	server, tool, ok := strings.Cut(rest, "__")
	if !ok {
		return "", false, false
	}
	client, ok := ts.clients[server]
	if !ok {
		return fmt.Sprintf("unknown mcp server %q", server), true, true
	}
	content, isErr, err := client.CallTool(tool, args)
	if err != nil {
		return err.Error(), true, true
	}
	return content, isErr, true
}

func (ts *mcpToolset) Close() {
	for _, client := range ts.clients {
		_ = client.Close()
	}
}

func sortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
