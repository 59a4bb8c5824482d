package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to the sandbox service over its REST API. It implements
// Provider.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the service at baseURL authenticated with a
// bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

type createRequest struct {
	TimeoutMs int64             `json:"timeout_ms,omitempty"`
	Ports     []int             `json:"ports,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Runtime   string            `json:"runtime"`
}

type sandboxResponse struct {
	ID      string         `json:"id"`
	Domains map[string]string `json:"domains,omitempty"` // port -> hostname
}

type commandResponse struct {
	ID       string `json:"id"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Done     bool   `json:"done"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Create provisions a new sandbox.
func (c *Client) Create(ctx context.Context, opts CreateOptions) (Sandbox, error) {
	body := createRequest{
		Ports:   opts.Ports,
		Env:     opts.Env,
		Runtime: "node24",
	}
	if opts.Timeout > 0 {
		body.TimeoutMs = opts.Timeout.Milliseconds()
	}

	var resp sandboxResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes", body, &resp); err != nil {
		return nil, err
	}
	return &remoteSandbox{client: c, id: resp.ID, domains: resp.Domains}, nil
}

// Get retrieves an existing sandbox by id.
func (c *Client) Get(ctx context.Context, sandboxID string) (Sandbox, error) {
	var resp sandboxResponse
	path := "/v1/sandboxes/" + url.PathEscape(sandboxID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &remoteSandbox{client: c, id: resp.ID, domains: resp.Domains}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		var envelope errorEnvelope
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

type remoteSandbox struct {
	client  *Client
	id      string
	domains map[string]string
}

func (s *remoteSandbox) ID() string { return s.id }

func (s *remoteSandbox) Domain(port int) string {
	if host, ok := s.domains[strconv.Itoa(port)]; ok {
		return host
	}
	return fmt.Sprintf("%s-%d.sandbox.dev", s.id, port)
}

type runCommandRequest struct {
	Cmd      string   `json:"cmd"`
	Args     []string `json:"args,omitempty"`
	Sudo     bool     `json:"sudo,omitempty"`
	Detached bool     `json:"detached,omitempty"`
}

func (s *remoteSandbox) RunCommand(ctx context.Context, opts RunCommandOptions) (Command, error) {
	var resp commandResponse
	path := "/v1/sandboxes/" + url.PathEscape(s.id) + "/commands"
	body := runCommandRequest{Cmd: opts.Cmd, Args: opts.Args, Sudo: opts.Sudo, Detached: opts.Detached}
	if err := s.client.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &remoteCommand{sandbox: s, id: resp.ID}, nil
}

func (s *remoteSandbox) GetCommand(ctx context.Context, cmdID string) (Command, error) {
	var resp commandResponse
	path := "/v1/sandboxes/" + url.PathEscape(s.id) + "/commands/" + url.PathEscape(cmdID)
	if err := s.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &remoteCommand{sandbox: s, id: resp.ID}, nil
}

type writeFilesRequest struct {
	Files []writeFileEntry `json:"files"`
}

type writeFileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"` // base64
}

func (s *remoteSandbox) WriteFiles(ctx context.Context, files []WriteFile) error {
	entries := make([]writeFileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, writeFileEntry{
			Path:    f.Path,
			Content: base64.StdEncoding.EncodeToString(f.Content),
		})
	}
	path := "/v1/sandboxes/" + url.PathEscape(s.id) + "/files"
	return s.client.do(ctx, http.MethodPut, path, writeFilesRequest{Files: entries}, nil)
}

func (s *remoteSandbox) ReadFile(ctx context.Context, filePath string) (io.ReadCloser, error) {
	u := s.client.baseURL + "/v1/sandboxes/" + url.PathEscape(s.id) + "/files?path=" + url.QueryEscape(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build read file request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.client.token)

	resp, err := s.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", filePath, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: resp.Status, Body: string(raw)}
	}
	return resp.Body, nil
}

type remoteCommand struct {
	sandbox *remoteSandbox
	id      string
}

func (c *remoteCommand) ID() string { return c.id }

func (c *remoteCommand) Wait(ctx context.Context) (*CommandResult, error) {
	var resp commandResponse
	path := "/v1/sandboxes/" + url.PathEscape(c.sandbox.id) + "/commands/" + url.PathEscape(c.id) + "/wait"
	if err := c.sandbox.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	result := &CommandResult{Stdout: resp.Stdout, Stderr: resp.Stderr}
	if resp.ExitCode != nil {
		result.ExitCode = *resp.ExitCode
	}
	return result, nil
}

// Logs streams command output as newline-delimited JSON until the command
// finishes or ctx is cancelled.
func (c *remoteCommand) Logs(ctx context.Context) (<-chan LogLine, error) {
	u := c.sandbox.client.baseURL + "/v1/sandboxes/" + url.PathEscape(c.sandbox.id) +
		"/commands/" + url.PathEscape(c.id) + "/logs"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build logs request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.sandbox.client.token)

	resp, err := c.sandbox.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open logs stream: %w", err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: resp.Status, Body: string(raw)}
	}

	ch := make(chan LogLine, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var line LogLine
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				continue
			}
			select {
			case ch <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
