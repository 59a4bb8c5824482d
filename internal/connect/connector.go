// Package connect dials runtime-configured external tool providers over
// JSON-RPC/HTTP and adapts their tools into the registry's Tool interface.
// Connections are opened per turn and closed when the turn finishes or
// aborts.
package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	protocolVersion = "2025-03-26"
	dialTimeout     = 10 * time.Second
	callTimeout     = 60 * time.Second
)

// Auth configures how requests to a connector are authenticated.
type Auth struct {
	Type    string            `json:"type"` // "none", "bearer", "headers"
	Bearer  string            `json:"bearer,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// RemoteTool is one tool advertised by a connector.
type RemoteTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Connector is an open session to one external tool provider.
type Connector struct {
	name    string
	url     string
	headers map[string]string
	http    *http.Client
	nextID  atomic.Int64
	tools   []RemoteTool
}

// Dial initializes a session with the provider at url and lists its tools.
func Dial(ctx context.Context, name, url string, auth Auth) (*Connector, error) {
	c := &Connector{
		name:    name,
		url:     url,
		headers: authHeaders(auth),
		http:    &http.Client{Timeout: callTimeout},
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var initResult struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := c.call(dialCtx, "initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]string{"name": "clark", "version": "1.0"},
		"capabilities":    map[string]interface{}{},
	}, &initResult); err != nil {
		return nil, fmt.Errorf("initialize connector %s: %w", name, err)
	}

	var listResult struct {
		Tools []RemoteTool `json:"tools"`
	}
	if err := c.call(dialCtx, "tools/list", map[string]interface{}{}, &listResult); err != nil {
		return nil, fmt.Errorf("list tools on connector %s: %w", name, err)
	}
	c.tools = listResult.Tools
	return c, nil
}

// Name returns the connection name this connector was dialed for.
func (c *Connector) Name() string { return c.name }

// Tools returns the tools the provider advertised at dial time.
func (c *Connector) Tools() []RemoteTool {
	out := make([]RemoteTool, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes a remote tool and returns its text content. A provider
// that flags the result as an error gets that surfaced as a Go error so the
// loop converts it into an error tool-result.
func (c *Connector) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	params := map[string]interface{}{"name": name}
	if len(args) > 0 {
		params["arguments"] = args
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return "", err
	}

	var text bytes.Buffer
	for _, item := range result.Content {
		if item.Type == "text" {
			text.WriteString(item.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("connector tool %s failed: %s", name, text.String())
	}
	return text.String(), nil
}

// Close shuts the session down. The transport is stateless HTTP, so closing
// only releases pooled connections.
func (c *Connector) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Connector) call(ctx context.Context, method string, params, result interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request to %s: %w", method, c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", c.name, resp.StatusCode)
	}

	var rpc rpcResponse
	if err := json.Unmarshal(body, &rpc); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpc.Error != nil {
		return rpc.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpc.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func authHeaders(auth Auth) map[string]string {
	switch auth.Type {
	case "bearer":
		return map[string]string{"Authorization": "Bearer " + auth.Bearer}
	case "headers":
		return auth.Headers
	default:
		return nil
	}
}
