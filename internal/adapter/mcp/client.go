// Package mcp implements the stdio JSON-RPC transport for MCP backends and the
// federation that aggregates tool descriptors across them.
package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/lowart/gateway/internal/domain"
)

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      uint64          `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonRPCError   `json:"error"`
	ID      uint64          `json:"id"`
}

type jsonRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// StdioClient is an MCP backend reached over a child process's stdin/stdout, one
// line-delimited JSON-RPC request answered by exactly one line-delimited response.
type StdioClient struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex
	readMu  sync.Mutex
	nextID  atomic.Uint64
}

// Spawn starts command with args, piping stdin/stdout and inheriting stderr so the
// child's diagnostic output still reaches the gateway's own logs.
func Spawn(command string, args ...string) (*StdioClient, error) {
	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("op=mcp.Spawn: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("op=mcp.Spawn: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("op=mcp.Spawn: %w", err)
	}

	return &StdioClient{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
	}, nil
}

func (c *StdioClient) call(method string, params json.RawMessage) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req := jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("op=mcp.call: %w", err)
	}

	c.writeMu.Lock()
	_, werr := c.stdin.Write(append(line, '\n'))
	c.writeMu.Unlock()
	if werr != nil {
		return nil, fmt.Errorf("op=mcp.call: write stdin: %w", werr)
	}

	c.readMu.Lock()
	respLine, rerr := c.reader.ReadString('\n')
	c.readMu.Unlock()
	if rerr != nil {
		return nil, fmt.Errorf("op=mcp.call: read stdout: %w", rerr)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal([]byte(respLine), &resp); err != nil {
		return nil, fmt.Errorf("op=mcp.call: decode response: %w", err)
	}
	if resp.ID != id {
		return nil, fmt.Errorf("op=mcp.call: response id %d does not match request id %d", resp.ID, id)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("op=mcp.call: mcp error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

type mcpToolWire struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ListTools calls tools/list and decodes the result's tools array.
func (c *StdioClient) ListTools(_ domain.Context) ([]domain.McpTool, error) {
	result, err := c.call("tools/list", json.RawMessage(`{}`))
	if err != nil {
		return nil, fmt.Errorf("op=mcp.ListTools: %w", err)
	}

	var body struct {
		Tools []mcpToolWire `json:"tools"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("op=mcp.ListTools: decode: %w", err)
	}

	tools := make([]domain.McpTool, 0, len(body.Tools))
	for _, t := range body.Tools {
		tools = append(tools, domain.McpTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return tools, nil
}

// CallTool calls tools/call with name and args.
func (c *StdioClient) CallTool(_ domain.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	params, err := json.Marshal(struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("op=mcp.CallTool: %w", err)
	}
	result, err := c.call("tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("op=mcp.CallTool: %w", err)
	}
	return result, nil
}

// Close terminates the child process and releases its stdin pipe.
func (c *StdioClient) Close() error {
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}

var _ domain.McpClientHandle = (*StdioClient)(nil)
