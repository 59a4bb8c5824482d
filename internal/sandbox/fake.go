package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// FakeProvider is an in-memory Provider for tests. Command outcomes are
// scripted per command name; unscripted commands succeed with exit code 0.
type FakeProvider struct {
	mu        sync.Mutex
	seq       int
	sandboxes map[string]*FakeSandbox

	CreateErr error
	GetErr    error
}

// NewFakeProvider creates an empty fake.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{sandboxes: make(map[string]*FakeSandbox)}
}

func (p *FakeProvider) Create(_ context.Context, opts CreateOptions) (Sandbox, error) {
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	sb := &FakeSandbox{
		id:       fmt.Sprintf("sbx-%d", p.seq),
		Created:  opts,
		Files:    make(map[string][]byte),
		Results:  make(map[string]CommandResult),
		LogLines: make(map[string][]LogLine),
	}
	p.sandboxes[sb.id] = sb
	return sb, nil
}

func (p *FakeProvider) Get(_ context.Context, sandboxID string) (Sandbox, error) {
	if p.GetErr != nil {
		return nil, p.GetErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sandboxes[sandboxID]
	if !ok {
		return nil, &APIError{Code: "sandbox_not_found", Message: "no such sandbox", StatusCode: 404}
	}
	return sb, nil
}

// Sandboxes returns all created fakes, oldest first.
func (p *FakeProvider) Sandboxes() []*FakeSandbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*FakeSandbox, 0, len(p.sandboxes))
	for i := 1; i <= p.seq; i++ {
		if sb, ok := p.sandboxes[fmt.Sprintf("sbx-%d", i)]; ok {
			out = append(out, sb)
		}
	}
	return out
}

// FakeSandbox records writes and command runs for assertions.
type FakeSandbox struct {
	id      string
	Created CreateOptions

	mu       sync.Mutex
	cmdSeq   int
	Files    map[string][]byte
	Commands []RunCommandOptions
	Results  map[string]CommandResult // keyed by cmd name; default exit 0
	LogLines map[string][]LogLine     // keyed by cmd name
	RunErr   error
	WriteErr error
}

func (s *FakeSandbox) ID() string { return s.id }

func (s *FakeSandbox) Domain(port int) string {
	return fmt.Sprintf("%s-%d.fake.dev", s.id, port)
}

func (s *FakeSandbox) RunCommand(_ context.Context, opts RunCommandOptions) (Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RunErr != nil {
		return nil, s.RunErr
	}
	s.cmdSeq++
	s.Commands = append(s.Commands, opts)

	result := CommandResult{}
	if scripted, ok := s.Results[opts.Cmd]; ok {
		result = scripted
	}
	return &fakeCommand{
		id:     fmt.Sprintf("cmd-%d", s.cmdSeq),
		result: result,
		logs:   s.LogLines[opts.Cmd],
	}, nil
}

func (s *FakeSandbox) GetCommand(_ context.Context, cmdID string) (Command, error) {
	return &fakeCommand{id: cmdID}, nil
}

func (s *FakeSandbox) WriteFiles(_ context.Context, files []WriteFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	for _, f := range files {
		s.Files[f.Path] = f.Content
	}
	return nil
}

func (s *FakeSandbox) ReadFile(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.Files[path]
	if !ok {
		return nil, nil
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// WrittenPaths returns the paths written so far.
func (s *FakeSandbox) WrittenPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Files))
	for path := range s.Files {
		out = append(out, path)
	}
	return out
}

type fakeCommand struct {
	id     string
	result CommandResult
	logs   []LogLine
}

func (c *fakeCommand) ID() string { return c.id }

func (c *fakeCommand) Wait(context.Context) (*CommandResult, error) {
	result := c.result
	return &result, nil
}

func (c *fakeCommand) Logs(context.Context) (<-chan LogLine, error) {
	ch := make(chan LogLine, len(c.logs)+1)
	for _, line := range c.logs {
		ch <- line
	}
	close(ch)
	return ch, nil
}
