package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Database is a provisioned PostgreSQL database.
type Database struct {
	ID   string
	Name string
	URL  string
}

// CreateDatabaseInput names the database and places it inside an
// organization. ClusterSize must be a valid size name for the platform;
// Region and Replicas fall back to the organization defaults when unset.
type CreateDatabaseInput struct {
	Organization string
	Name         string
	ClusterSize  string
	Region       string
	Replicas     *int
}

// DatabaseClient calls the database platform. The platform authenticates
// service tokens with a raw "id:token" Authorization header rather than a
// bearer scheme.
type DatabaseClient struct {
	baseURL string
	tokenID string
	token   string
	http    *http.Client
}

// NewDatabaseClient creates a database provisioning client.
func NewDatabaseClient(baseURL, tokenID, token string) *DatabaseClient {
	return &DatabaseClient{
		baseURL: baseURL,
		tokenID: tokenID,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type createDatabaseRequest struct {
	Name        string `json:"name"`
	ClusterSize string `json:"cluster_size"`
	Kind        string `json:"kind"`
	Region      string `json:"region,omitempty"`
	Replicas    *int   `json:"replicas,omitempty"`
}

type databaseResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

// CreateDatabase provisions a PostgreSQL database in the given organization.
func (c *DatabaseClient) CreateDatabase(ctx context.Context, input CreateDatabaseInput) (*Database, error) {
	body := createDatabaseRequest{
		Name:        input.Name,
		ClusterSize: input.ClusterSize,
		Kind:        "postgresql",
		Region:      input.Region,
		Replicas:    input.Replicas,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal create database: %w", err)
	}

	url := fmt.Sprintf("%s/organizations/%s/databases", c.baseURL, input.Organization)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build create database request: %w", err)
	}
	req.Header.Set("Authorization", c.tokenID+":"+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create database: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read create database response: %w", err)
	}

	var decoded databaseResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode create database response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := decoded.Message
		if message == "" {
			message = string(raw)
		}
		return nil, fmt.Errorf("database api (status %d): %s", resp.StatusCode, message)
	}

	return &Database{ID: decoded.ID, Name: decoded.Name, URL: decoded.URL}, nil
}
