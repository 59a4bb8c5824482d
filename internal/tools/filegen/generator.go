// Package filegen turns a model's streamed structured output into file
// chunks that can be uploaded while generation is still in progress. The
// stream is JSON of the shape {"files": [{"path", "content"}, ...]}; entries
// near the tail of the array may still be growing, so the generator holds
// them back until enough of the array exists after them.
package filegen

import (
	"context"
	"fmt"

	"github.com/clark-labs/clark/internal/llm"
)

// unsettledTail is how many trailing array entries are presumed incomplete.
// Two guards against models that stream an entry field by field: the last
// entry's content may be mid-string while the one before it still lacks
// fields.
const unsettledTail = 2

const maxOutputTokens = 64000

const systemPrompt = "You are a file content generator. You must generate files based on the " +
	"conversation history and the provided paths. NEVER generate lock files (pnpm-lock.yaml, " +
	"package-lock.json, yarn.lock) - these are automatically created by package managers."

// File is one fully generated file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Chunk is one progress step of a generation.
type Chunk struct {
	Files   []File   // newly settled files, ready to upload
	Paths   []string // every path known so far, including the in-flight tail
	Written []string // paths already settled in earlier chunks
}

// Generator streams file contents from a model.
type Generator struct {
	client *llm.Client
}

// New creates a Generator backed by the given model client.
func New(client *llm.Client) *Generator {
	return &Generator{client: client}
}

// Generate asks the model for the contents of paths, using history for
// context. Chunks arrive on the first channel as entries settle; the second
// channel delivers at most one error and is closed when generation ends.
// After an error no further chunks are sent, but files already emitted
// remain valid.
func (g *Generator) Generate(ctx context.Context, opts llm.ModelOptions, history []llm.Message, paths []string) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)
		if err := g.run(ctx, opts, history, paths, chunks); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func (g *Generator) run(ctx context.Context, opts llm.ModelOptions, history []llm.Message, paths []string, chunks chan<- Chunk) error {
	req := g.buildRequest(opts, history, paths)

	events, err := g.client.Stream(ctx, req)
	if err != nil {
		return fmt.Errorf("start file generation stream: %w", err)
	}

	// The model surfaces stream faults on a side channel rather than as a
	// terminal event we could rely on; race the two so whichever signal
	// arrives first decides between final flush and error propagation.
	deltas := make(chan string, 64)
	done := make(chan string, 1)
	faults := make(chan error, 1)

	go func() {
		var buf []byte
		for ev := range events {
			switch ev.Type {
			case llm.TextDelta:
				buf = append(buf, ev.Delta...)
				select {
				case deltas <- ev.Delta:
				case <-ctx.Done():
					close(deltas)
					return
				}
			case llm.StreamError:
				faults <- ev.Err
				close(deltas)
				return
			case llm.StreamFinish:
				if ev.Response != nil && ev.Response.Text() != "" {
					done <- ev.Response.Text()
				} else {
					done <- string(buf)
				}
			}
		}
		close(deltas)
	}()

	var accumulated string
	settled := 0

	emit := func(final bool) error {
		entries := parseFileEntries(accumulated)
		if len(entries) == 0 {
			return nil
		}

		settleUpTo := len(entries) - unsettledTail
		if final {
			settleUpTo = len(entries)
		}
		if settleUpTo < settled {
			settleUpTo = settled
		}

		written := make([]string, 0, settled)
		for _, entry := range entries[:settled] {
			written = append(written, entry.Path)
		}

		var files []File
		for _, entry := range entries[settled:settleUpTo] {
			if !entry.HasPath || !entry.HasContent {
				return fmt.Errorf("file entry missing path or content at position %d", settled)
			}
			files = append(files, File{Path: entry.Path, Content: entry.Content})
		}

		// Every known path except the very last in-flight entry, whose path
		// bytes may themselves be incomplete.
		known := append([]string{}, written...)
		limit := len(entries)
		if !final {
			limit--
		}
		for _, entry := range entries[settled:max(settled, limit)] {
			if entry.HasPath {
				known = append(known, entry.Path)
			}
		}

		select {
		case chunks <- Chunk{Files: files, Paths: known, Written: written}:
		case <-ctx.Done():
			return ctx.Err()
		}
		settled = settleUpTo
		return nil
	}

	for {
		select {
		case delta, ok := <-deltas:
			if !ok {
				// Stream goroutine ended; a fault or completion decides below.
				select {
				case err := <-faults:
					return fmt.Errorf("file generation stream: %w", err)
				case full := <-done:
					accumulated = full
					return emit(true)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			accumulated += delta
			if err := emit(false); err != nil {
				return err
			}
		case err := <-faults:
			return fmt.Errorf("file generation stream: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Generator) buildRequest(opts llm.ModelOptions, history []llm.Message, paths []string) llm.Request {
	prompt := "Generate the content of the following files according to the conversation:"
	for _, path := range paths {
		prompt += "\n - " + path
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.SystemMessage(systemPrompt))
	messages = append(messages, history...)
	messages = append(messages, llm.UserMessage(prompt))

	maxTokens := maxOutputTokens
	return llm.Request{
		Model:           opts.Model,
		Provider:        opts.Provider,
		Messages:        messages,
		MaxTokens:       &maxTokens,
		ReasoningEffort: llm.EffortLow,
		Headers:         opts.Headers,
		ProviderOptions: opts.ProviderOptions,
		ResponseFormat: &llm.ResponseFormat{
			Type: "json_schema",
			JSONSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"files"},
				"properties": map[string]interface{}{
					"files": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type":     "object",
							"required": []string{"path", "content"},
							"properties": map[string]interface{}{
								"path":    map[string]interface{}{"type": "string"},
								"content": map[string]interface{}{"type": "string"},
							},
						},
					},
				},
			},
		},
	}
}
