// Package provision wraps the third-party application provisioning API used
// by the create_auth_app tool. Responses arrive as either {data: ...} or
// {error: {errors: [{message}]}}.
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

// Application is a provisioned auth application with its development
// instance credentials.
type Application struct {
	ApplicationID  string
	Name           string
	PublishableKey string
	SecretKey      string
}

// CreateApplicationInput names the application and optionally picks a
// starter template.
type CreateApplicationInput struct {
	Name     string
	Template string // "b2b-saas" or "waitlist"; empty for default
}

// Client calls the provisioning platform with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a provisioning client. token is the platform access
// token; validity is checked by the remote service, not locally.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type createApplicationRequest struct {
	Name             string   `json:"name"`
	EnvironmentTypes []string `json:"environment_types"`
	Template         string   `json:"template,omitempty"`
}

type applicationEnvelope struct {
	Data *struct {
		ApplicationID string `json:"application_id"`
		Name          string `json:"name"`
		Instances     []struct {
			EnvironmentType string `json:"environment_type"`
			PublishableKey  string `json:"publishable_key"`
			SecretKey       string `json:"secret_key"`
		} `json:"instances"`
	} `json:"data,omitempty"`
	Error *struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error,omitempty"`
}

// CreateApplication provisions a development application and returns its
// credentials.
func (c *Client) CreateApplication(ctx context.Context, input CreateApplicationInput) (*Application, error) {
	body := createApplicationRequest{
		Name:             input.Name,
		EnvironmentTypes: []string{"development"},
		Template:         input.Template,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal create application: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/applications", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build create application request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read create application response: %w", err)
	}

	var envelope applicationEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode create application response (status %d): %w", resp.StatusCode, err)
	}

	if envelope.Error != nil {
		message := "unknown error creating application"
		if len(envelope.Error.Errors) > 0 {
			message = envelope.Error.Errors[0].Message
		}
		return nil, fmt.Errorf("provisioning api: %s", message)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("provisioning api returned neither data nor error (status %d)", resp.StatusCode)
	}

	app := &Application{
		ApplicationID: envelope.Data.ApplicationID,
		Name:          envelope.Data.Name,
	}
	for _, inst := range envelope.Data.Instances {
		if inst.EnvironmentType == "development" {
			app.PublishableKey = inst.PublishableKey
			app.SecretKey = inst.SecretKey
			return app, nil
		}
	}
	return nil, fmt.Errorf("no development instance found in created application")
}
