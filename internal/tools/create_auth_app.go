package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/clark-labs/clark/internal/provision"
	"github.com/clark-labs/clark/internal/store"
	"github.com/clark-labs/clark/internal/stream"
)

// provisioner is the slice of the provisioning client this tool needs.
type provisioner interface {
	CreateApplication(ctx context.Context, input provision.CreateApplicationInput) (*provision.Application, error)
}

// CreateAuthAppTool provisions a development auth application and hands its
// keys to the model so they can be injected into the sandbox environment.
type CreateAuthAppTool struct {
	client    provisioner
	resources resourceRecorder
	logger    *slog.Logger
}

// NewCreateAuthAppTool wires the tool to the provisioning client. client may
// be nil when the platform token is not configured; executing the tool then
// fails with a configuration error.
func NewCreateAuthAppTool(client provisioner, resources resourceRecorder, logger *slog.Logger) *CreateAuthAppTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateAuthAppTool{client: client, resources: resources, logger: logger}
}

func (t *CreateAuthAppTool) Name() string { return "create_auth_app" }

func (t *CreateAuthAppTool) Description() string {
	return "Creates a development auth application and returns its publishable and secret keys. " +
		"Pass the keys as environment variables when creating the sandbox."
}

func (t *CreateAuthAppTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"name"},
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type": "string",
				"description": "The name for the auth application. Should be descriptive of " +
					"the project being built.",
			},
			"template": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"b2b-saas", "waitlist"},
				"description": "The template to use for the auth application.",
			},
		},
	}
}

type createAuthAppInput struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

func (t *CreateAuthAppTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var input createAuthAppInput
	if err := decodeArgs(t.Name(), inv.Arguments, &input); err != nil {
		return "", err
	}
	if input.Name == "" {
		return "", &ValidationError{Tool: t.Name(), Reason: "name is required"}
	}

	inv.Writer.Data(inv.ToolCallID, stream.KindCreateAuthApp,
		stream.CreateAuthAppData{Status: stream.AuthAppLoading, Name: input.Name})

	if t.client == nil {
		// Missing platform token. The error event terminates the part and
		// the returned error becomes a tool result the model can react to,
		// for example by asking the user to configure the token.
		message := "auth platform access token is not configured"
		inv.Writer.Data(inv.ToolCallID, stream.KindCreateAuthApp,
			stream.CreateAuthAppData{Status: stream.AuthAppError, Name: input.Name, Error: message})
		return "", fmt.Errorf("error creating auth app: %s", message)
	}

	app, err := t.client.CreateApplication(ctx, provision.CreateApplicationInput{
		Name:     input.Name,
		Template: input.Template,
	})
	if err != nil {
		rich := NewRichError("creating auth app", map[string]any{"name": input.Name}, err)
		inv.Writer.Data(inv.ToolCallID, stream.KindCreateAuthApp,
			stream.CreateAuthAppData{Status: stream.AuthAppError, Name: input.Name, Error: rich.Message})
		t.logger.Error("auth app creation failed", "name", input.Name, "error", err)
		return "", rich
	}

	inv.Writer.Data(inv.ToolCallID, stream.KindCreateAuthApp, stream.CreateAuthAppData{
		Status:         stream.AuthAppDone,
		Name:           app.Name,
		AppID:          app.ApplicationID,
		PublishableKey: app.PublishableKey,
		SecretKey:      app.SecretKey,
	})

	record, _ := json.Marshal(map[string]string{
		"applicationId": app.ApplicationID,
		"name":          app.Name,
	})
	if err := t.resources.Create(ctx, &store.Resource{
		ConversationID: inv.ConversationID,
		Kind:           store.ResourceAuthApp,
		Data:           record,
	}); err != nil {
		t.logger.Warn("failed to record auth app resource",
			"application_id", app.ApplicationID, "error", err)
	}

	return fmt.Sprintf("Auth application %q created successfully.\n"+
		"Application ID: %s\n"+
		"Publishable Key: %s\n"+
		"Secret Key: %s\n\n"+
		"Use these environment variables when creating the sandbox:\n"+
		"- NEXT_PUBLIC_AUTH_PUBLISHABLE_KEY=%s\n"+
		"- AUTH_SECRET_KEY=%s",
		input.Name, app.ApplicationID, app.PublishableKey, app.SecretKey,
		app.PublishableKey, app.SecretKey), nil
}
