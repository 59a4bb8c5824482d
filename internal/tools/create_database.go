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

// databaseProvisioner is the slice of the database client this tool needs.
type databaseProvisioner interface {
	CreateDatabase(ctx context.Context, input provision.CreateDatabaseInput) (*provision.Database, error)
}

// CreateDatabaseTool provisions a PostgreSQL database on the database
// platform so the generated app has somewhere to persist data.
type CreateDatabaseTool struct {
	client    databaseProvisioner
	resources resourceRecorder
	logger    *slog.Logger
}

// NewCreateDatabaseTool wires the tool to the database platform client.
// client may be nil when the service token is not configured; executing the
// tool then fails with a configuration error.
func NewCreateDatabaseTool(client databaseProvisioner, resources resourceRecorder, logger *slog.Logger) *CreateDatabaseTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateDatabaseTool{client: client, resources: resources, logger: logger}
}

func (t *CreateDatabaseTool) Name() string { return "create_database" }

func (t *CreateDatabaseTool) Description() string {
	return "Creates a PostgreSQL database in the given organization and returns its ID. " +
		"After creation you can create branches, passwords, and connect to the database."
}

func (t *CreateDatabaseTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"name", "organization"},
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type": "string",
				"description": "The name for the database. Should be lowercase, alphanumeric, " +
					"and may include hyphens.",
			},
			"organization": map[string]interface{}{
				"type":        "string",
				"description": "The organization name where the database will be created.",
			},
			"clusterSize": map[string]interface{}{
				"type": "string",
				"description": "The database cluster size name (e.g., 'PS_10', 'PS_80'). " +
					"Use 'PS_10' for development/small workloads.",
			},
			"region": map[string]interface{}{
				"type": "string",
				"description": "The region where the database will be deployed. Defaults to " +
					"the organization's default region if not specified.",
			},
			"replicas": map[string]interface{}{
				"type":        "integer",
				"minimum":     0,
				"description": "The number of replicas for the database. 0 for non-HA (default), 2+ for HA.",
			},
		},
	}
}

type createDatabaseInput struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
	ClusterSize  string `json:"clusterSize"`
	Region       string `json:"region"`
	Replicas     *int   `json:"replicas"`
}

func (t *CreateDatabaseTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var input createDatabaseInput
	if err := decodeArgs(t.Name(), inv.Arguments, &input); err != nil {
		return "", err
	}
	if input.Name == "" {
		return "", &ValidationError{Tool: t.Name(), Reason: "name is required"}
	}
	if input.Organization == "" {
		return "", &ValidationError{Tool: t.Name(), Reason: "organization is required"}
	}
	if input.ClusterSize == "" {
		input.ClusterSize = "PS_10"
	}

	inv.Writer.Data(inv.ToolCallID, stream.KindCreateDatabase,
		stream.CreateDatabaseData{Status: stream.DatabaseLoading, Name: input.Name})

	if t.client == nil {
		message := "database platform service token is not configured"
		inv.Writer.Data(inv.ToolCallID, stream.KindCreateDatabase,
			stream.CreateDatabaseData{Status: stream.DatabaseError, Name: input.Name, Error: message})
		return "", fmt.Errorf("error creating database: %s", message)
	}

	db, err := t.client.CreateDatabase(ctx, provision.CreateDatabaseInput{
		Organization: input.Organization,
		Name:         input.Name,
		ClusterSize:  input.ClusterSize,
		Region:       input.Region,
		Replicas:     input.Replicas,
	})
	if err != nil {
		rich := NewRichError("creating database", map[string]any{
			"name":         input.Name,
			"organization": input.Organization,
			"clusterSize":  input.ClusterSize,
		}, err)
		inv.Writer.Data(inv.ToolCallID, stream.KindCreateDatabase,
			stream.CreateDatabaseData{Status: stream.DatabaseError, Name: input.Name, Error: rich.Message})
		t.logger.Error("database creation failed",
			"name", input.Name, "organization", input.Organization, "error", err)
		return "", rich
	}

	inv.Writer.Data(inv.ToolCallID, stream.KindCreateDatabase, stream.CreateDatabaseData{
		Status:     stream.DatabaseDone,
		Name:       input.Name,
		DatabaseID: db.ID,
		URL:        db.URL,
	})

	record, _ := json.Marshal(map[string]string{
		"databaseId":   db.ID,
		"name":         input.Name,
		"organization": input.Organization,
	})
	if err := t.resources.Create(ctx, &store.Resource{
		ConversationID: inv.ConversationID,
		Kind:           store.ResourceDatabase,
		Data:           record,
	}); err != nil {
		t.logger.Warn("failed to record database resource",
			"database_id", db.ID, "error", err)
	}

	return fmt.Sprintf("Database %q created successfully in organization %q.\n"+
		"Database ID: %s\n"+
		"You can now create branches, passwords, and connect to the database.",
		input.Name, input.Organization, db.ID), nil
}
