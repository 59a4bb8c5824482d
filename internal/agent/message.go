// Package agent drives one conversational turn: it submits the message
// history to a model, executes requested tool calls, streams everything
// through a single ordered event writer, and hands the finished transcript to
// the persistence reconciler.
package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clark-labs/clark/internal/llm"
)

// Tool part states, in lifecycle order. A part's state only advances.
const (
	StateInputStreaming  = "input-streaming"
	StateInputAvailable  = "input-available"
	StateOutputAvailable = "output-available"
	StateOutputError     = "output-error"
)

// UIMessage is the wire shape of one logical message as the client sees it:
// an ordered list of typed parts. The ID doubles as the external id used to
// deduplicate persistence writes.
type UIMessage struct {
	ID       string          `json:"id"`
	Role     string          `json:"role"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Parts    []UIPart        `json:"parts"`
}

// UIPart is one ordered fragment of a UIMessage. Type is "text",
// "reasoning", "tool-<name>" or "data-<kind>"; the populated fields depend on
// the type.
type UIPart struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	State      string          `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// IsToolPart reports whether the part records a tool invocation.
func (p UIPart) IsToolPart() bool { return strings.HasPrefix(p.Type, "tool-") }

// ToolName returns the tool name encoded in a tool part's type.
func (p UIPart) ToolName() string { return strings.TrimPrefix(p.Type, "tool-") }

// IsDataPart reports whether the part carries a structured progress payload.
func (p UIPart) IsDataPart() bool { return strings.HasPrefix(p.Type, "data-") }

// TextUIPart creates a plain text part.
func TextUIPart(text string) UIPart {
	return UIPart{Type: "text", Text: text}
}

// reportErrorsPayload mirrors the data-report-errors part shape.
type reportErrorsPayload struct {
	Summary string   `json:"summary"`
	Paths   []string `json:"paths,omitempty"`
}

// RewriteReportErrors turns a data-report-errors part into the plain text
// instruction the model receives in its place. The rewrite is deterministic
// and stateless; parts of any other type are returned unchanged.
func RewriteReportErrors(p UIPart) UIPart {
	if p.Type != "data-report-errors" {
		return p
	}
	var payload reportErrorsPayload
	if err := json.Unmarshal(p.Data, &payload); err != nil {
		return p
	}

	var sb strings.Builder
	sb.WriteString("There are errors in the generated code. This is the summary of the errors we have:\n")
	sb.WriteString("```" + payload.Summary + "```\n")
	if len(payload.Paths) > 0 {
		sb.WriteString("The following files may contain errors:\n")
		sb.WriteString("```" + strings.Join(payload.Paths, "\n") + "```\n")
	}
	sb.WriteString("Fix the errors reported.")
	return TextUIPart(sb.String())
}

// ToModelMessages converts client messages into the provider-neutral form
// sent to the model. data-report-errors parts are rewritten to text
// instructions; other data parts are progress-only and dropped. Tool parts on
// assistant messages expand into a tool-call part plus a trailing tool-result
// message so the model sees the full exchange.
func ToModelMessages(messages []UIMessage) []llm.Message {
	var out []llm.Message
	for _, msg := range messages {
		var content []llm.Part
		var toolResults []llm.Message

		for _, part := range msg.Parts {
			part = RewriteReportErrors(part)
			switch {
			case part.Type == "text":
				content = append(content, llm.TextPart(part.Text))
			case part.Type == "reasoning":
				content = append(content, llm.ReasoningPart(part.Text))
			case part.IsToolPart():
				content = append(content, llm.ToolCallPart(part.ToolCallID, part.ToolName(), part.Input))
				switch part.State {
				case StateOutputAvailable:
					toolResults = append(toolResults,
						llm.ToolResultMessage(part.ToolCallID, part.Output, false))
				case StateOutputError:
					toolResults = append(toolResults,
						llm.ToolResultMessage(part.ToolCallID, part.ErrorText, true))
				}
			case part.IsDataPart():
				// Progress payloads are for the client, not the model.
			}
		}

		if len(content) > 0 {
			out = append(out, llm.Message{Role: llm.Role(msg.Role), Content: content})
		}
		out = append(out, toolResults...)
	}
	return out
}

// advanceToolPart moves the tool part with the given call id to a terminal
// state. It is an error for the part to be missing; the loop always records
// input-available before execution starts.
func advanceToolPart(msg *UIMessage, toolCallID, state, output, errorText string) error {
	for i := range msg.Parts {
		if msg.Parts[i].IsToolPart() && msg.Parts[i].ToolCallID == toolCallID {
			msg.Parts[i].State = state
			msg.Parts[i].Output = output
			msg.Parts[i].ErrorText = errorText
			return nil
		}
	}
	return fmt.Errorf("no tool part for call %s", toolCallID)
}
