// Package stream defines the turn event model and the ordered sink that
// merges model output, tool progress, and terminal metadata into the single
// sequence a client observes. All concurrent producers in a turn write
// through one Writer; the Writer is the only place ordering is decided.
package stream

import "time"

// EventType identifies one wire event in a turn stream.
type EventType string

const (
	EventStart          EventType = "start"
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolInputStart EventType = "tool-input-start"
	EventToolInputDelta EventType = "tool-input-delta"
	EventToolInput      EventType = "tool-input-available"
	EventToolOutput     EventType = "tool-output-available"
	EventToolError      EventType = "tool-output-error"
	EventFinish         EventType = "finish"
	EventError          EventType = "error"
	// Tool progress events use "data-<kind>" computed from the DataKind.
)

// DataKind names a tool progress payload family. The wire event type for a
// progress event is "data-" + kind.
type DataKind string

const (
	KindCreateSandbox  DataKind = "create-sandbox"
	KindGenerateFiles  DataKind = "generate-files"
	KindRunCommand     DataKind = "run-command"
	KindRunCommandLogs DataKind = "run-command-logs"
	KindGetSandboxURL  DataKind = "get-sandbox-url"
	KindReportErrors   DataKind = "report-errors"
	KindWait           DataKind = "wait"
	KindCreateAuthApp  DataKind = "create-auth-app"
	KindCreateDatabase DataKind = "create-database"
)

// EventTypeFor returns the wire event type for a progress kind.
func EventTypeFor(kind DataKind) EventType {
	return EventType("data-" + string(kind))
}

// Event is one element of a turn stream. Seq is assigned by the Writer and
// is strictly increasing within a turn; clients resume by replaying from the
// last Seq they saw.
type Event struct {
	Seq      int64     `json:"seq"`
	Type     EventType `json:"type"`
	ID       string    `json:"id,omitempty"` // part or tool-call correlation id
	Delta    string    `json:"delta,omitempty"`
	ToolName string    `json:"toolName,omitempty"`
	Data     any       `json:"data,omitempty"`
}

// Sandbox creation progress. Status is one of loading, done, error.
type CreateSandboxData struct {
	Status    string `json:"status"`
	SandboxID string `json:"sandboxId,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	SandboxLoading = "loading"
	SandboxDone    = "done"
	SandboxError   = "error"
)

// File generation progress. Status is one of generating, uploading,
// uploaded, done, error.
type GenerateFilesData struct {
	Status string   `json:"status"`
	Paths  []string `json:"paths"`
	Error  string   `json:"error,omitempty"`
}

const (
	FilesGenerating = "generating"
	FilesUploading  = "uploading"
	FilesUploaded   = "uploaded"
	FilesDone       = "done"
	FilesError      = "error"
)

// Command execution progress. Status is one of executing, running, waiting,
// done, error.
type RunCommandData struct {
	Status    string   `json:"status"`
	SandboxID string   `json:"sandboxId"`
	CommandID string   `json:"commandId,omitempty"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
	ExitCode  *int     `json:"exitCode,omitempty"`
	Error     string   `json:"error,omitempty"`
}

const (
	CommandExecuting = "executing"
	CommandRunning   = "running"
	CommandWaiting   = "waiting"
	CommandDone      = "done"
	CommandError     = "error"
)

// RunCommandLogsData is one live output line of a command the turn is
// waiting on. Reconnecting clients fetch the same lines from the command
// logs endpoint instead.
type RunCommandLogsData struct {
	SandboxID string `json:"sandboxId"`
	CommandID string `json:"commandId"`
	Stream    string `json:"stream"` // "stdout" or "stderr"
	Line      string `json:"line"`
}

// Sandbox URL lookup progress. Status is one of loading, done.
type GetSandboxURLData struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
}

const (
	URLLoading = "loading"
	URLDone    = "done"
)

// Error report payload. Terminal by construction; it carries no status.
type ReportErrorsData struct {
	Summary string   `json:"summary"`
	Paths   []string `json:"paths,omitempty"`
}

// Wait progress. Status is one of waiting, completed.
type WaitData struct {
	Status string `json:"status"`
	TimeMs int    `json:"time_ms,omitempty"`
}

const (
	WaitWaiting   = "waiting"
	WaitCompleted = "completed"
)

// Auth app provisioning progress. Status is one of loading, done, error.
// The done event carries the development instance keys so clients can
// render them without parsing the tool result text.
type CreateAuthAppData struct {
	Status         string `json:"status"`
	Name           string `json:"name,omitempty"`
	AppID          string `json:"appId,omitempty"`
	PublishableKey string `json:"publishableKey,omitempty"`
	SecretKey      string `json:"secretKey,omitempty"`
	Error          string `json:"error,omitempty"`
}

const (
	AuthAppLoading = "loading"
	AuthAppDone    = "done"
	AuthAppError   = "error"
)

// Database provisioning progress. Status is one of loading, done, error.
type CreateDatabaseData struct {
	Status     string `json:"status"`
	Name       string `json:"name,omitempty"`
	DatabaseID string `json:"databaseId,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
}

const (
	DatabaseLoading = "loading"
	DatabaseDone    = "done"
	DatabaseError   = "error"
)

// FinishData is the payload of the terminal finish event of a successful
// turn.
type FinishData struct {
	Model       string    `json:"model"`
	TotalTokens int       `json:"totalTokens"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ErrorData is the payload of a terminal error event. Message is the
// user-visible text; detail stays in server logs.
type ErrorData struct {
	Message string `json:"message"`
}
