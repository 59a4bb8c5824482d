package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clark-labs/clark/internal/sandbox"
	"github.com/clark-labs/clark/internal/stream"
	"github.com/clark-labs/clark/internal/tools/filegen"
)

// GenerateFilesTool generates file contents with a model and uploads them to
// a sandbox as they settle. Files with predefined content (for example .env
// with secrets from an earlier tool call) bypass generation and upload
// first.
type GenerateFilesTool struct {
	provider  sandbox.Provider
	generator *filegen.Generator
	logger    *slog.Logger
}

// NewGenerateFilesTool wires the tool to a sandbox provider and a file
// content generator.
func NewGenerateFilesTool(provider sandbox.Provider, generator *filegen.Generator, logger *slog.Logger) *GenerateFilesTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateFilesTool{provider: provider, generator: generator, logger: logger}
}

func (t *GenerateFilesTool) Name() string { return "generate_files" }

func (t *GenerateFilesTool) Description() string {
	return "Generates the content of the given file paths based on the conversation and uploads " +
		"them to the sandbox. Optionally accepts files with predefined content that are uploaded " +
		"as-is before generation, e.g. .env files carrying secrets from earlier tool calls."
}

func (t *GenerateFilesTool) Parameters() map[string]interface{} {
	fileSchema := map[string]interface{}{
		"type":     "object",
		"required": []string{"path", "content"},
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file in the sandbox (e.g., '.env', 'config.json').",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The content of the file.",
			},
		},
	}
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"sandboxId", "paths"},
		"properties": map[string]interface{}{
			"sandboxId": map[string]interface{}{
				"type":        "string",
				"description": "The ID of the sandbox to upload files into.",
			},
			"paths": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Paths of the files to generate.",
			},
			"files": map[string]interface{}{
				"type":  "array",
				"items": fileSchema,
				"description": "Files with predefined content to upload directly without " +
					"generation. Uploaded first, before any generated files.",
			},
		},
	}
}

type generateFilesInput struct {
	SandboxID string         `json:"sandboxId"`
	Paths     []string       `json:"paths"`
	Files     []filegen.File `json:"files"`
}

func (t *GenerateFilesTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var input generateFilesInput
	if err := decodeArgs(t.Name(), inv.Arguments, &input); err != nil {
		return "", err
	}
	if input.SandboxID == "" {
		return "", &ValidationError{Tool: t.Name(), Reason: "sandboxId is required"}
	}
	if len(input.Paths) == 0 && len(input.Files) == 0 {
		return "", &ValidationError{Tool: t.Name(), Reason: "paths or files must be provided"}
	}

	emit := func(status string, paths []string, errMsg string) {
		inv.Writer.Data(inv.ToolCallID, stream.KindGenerateFiles,
			stream.GenerateFilesData{Status: status, Paths: paths, Error: errMsg})
	}

	emit(stream.FilesGenerating, []string{}, "")

	sb, err := t.provider.Get(ctx, input.SandboxID)
	if err != nil {
		rich := NewRichError("getting sandbox by id", map[string]any{"sandboxId": input.SandboxID}, err)
		emit(stream.FilesError, []string{}, rich.Message)
		return rich.ModelText(), nil
	}

	var uploaded []filegen.File

	upload := func(files []filegen.File, known []string) (string, bool) {
		paths := make([]string, 0, len(uploaded)+len(files))
		for _, f := range uploaded {
			paths = append(paths, f.Path)
		}
		for _, f := range files {
			paths = append(paths, f.Path)
		}
		emit(stream.FilesUploading, paths, "")

		writes := make([]sandbox.WriteFile, 0, len(files))
		for _, f := range files {
			writes = append(writes, sandbox.WriteFile{Path: f.Path, Content: []byte(f.Content)})
		}
		if err := sb.WriteFiles(ctx, writes); err != nil {
			rich := NewRichError("writing files to sandbox", map[string]any{
				"sandboxId": input.SandboxID, "paths": paths,
			}, err)
			emit(stream.FilesError, known, rich.Message)
			return rich.ModelText(), false
		}

		emit(stream.FilesUploaded, paths, "")
		uploaded = append(uploaded, files...)
		return "", true
	}

	// Predefined files go in first so their paths appear in every later
	// progress event.
	predefinedPaths := make([]string, 0, len(input.Files))
	for _, f := range input.Files {
		predefinedPaths = append(predefinedPaths, f.Path)
	}
	if len(input.Files) > 0 {
		if msg, ok := upload(input.Files, predefinedPaths); !ok {
			return msg, nil
		}
	}

	if len(input.Paths) > 0 {
		chunks, errs := t.generator.Generate(ctx, inv.ModelOptions, inv.Messages, input.Paths)
		for chunk := range chunks {
			known := append(append([]string{}, predefinedPaths...), chunk.Paths...)
			if len(chunk.Files) > 0 {
				if msg, ok := upload(chunk.Files, known); !ok {
					return msg, nil
				}
			} else {
				emit(stream.FilesGenerating, known, "")
			}
		}
		if err := <-errs; err != nil {
			rich := NewRichError("generating file contents", map[string]any{
				"paths": input.Paths,
			}, err)
			known := append(append([]string{}, predefinedPaths...), input.Paths...)
			emit(stream.FilesError, known, rich.Message)
			t.logger.Error("file generation failed", "error", err)
			return rich.ModelText(), nil
		}
	}

	finalPaths := make([]string, 0, len(uploaded))
	for _, f := range uploaded {
		finalPaths = append(finalPaths, f.Path)
	}
	emit(stream.FilesDone, finalPaths, "")

	var sb2 strings.Builder
	fmt.Fprintf(&sb2, "Successfully generated and uploaded %d files. "+
		"Their paths and contents are as follows:\n", len(uploaded))
	for _, f := range uploaded {
		fmt.Fprintf(&sb2, "Path: %s\nContent: %s\n\n", f.Path, f.Content)
	}
	return sb2.String(), nil
}
