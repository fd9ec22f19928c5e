package client

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/genai"
)

// GeminiClient wraps the Google Vertex AI Gemini client as an alternate
// dialogue provider.
type GeminiClient struct {
	client    *genai.Client
	model     string
	projectID string
	location  string
	creds     *google.Credentials
}

// NewGeminiClientWithCredentials creates a Gemini client from service
// account JSON (the decoded GEMINI_SA_BASE64 payload). The project id is
// taken from the credentials themselves.
func NewGeminiClientWithCredentials(ctx context.Context, location string, serviceAccountJSON []byte) (*GeminiClient, error) {
	creds, err := google.CredentialsFromJSON(ctx, serviceAccountJSON, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds.ProjectID == "" {
		return nil, fmt.Errorf("service account JSON carries no project id")
	}

	// The SDK reads credentials from the environment.
	credFile, err := writeCredentialsFile(serviceAccountJSON)
	if err != nil {
		return nil, err
	}
	if err := os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", credFile); err != nil {
		return nil, fmt.Errorf("failed to set GOOGLE_APPLICATION_CREDENTIALS: %w", err)
	}

	cfg := &genai.ClientConfig{
		Project:  creds.ProjectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &GeminiClient{
		client:    client,
		model:     "gemini-2.0-flash",
		projectID: creds.ProjectID,
		location:  location,
		creds:     creds,
	}, nil
}

func writeCredentialsFile(serviceAccountJSON []byte) (string, error) {
	f, err := os.CreateTemp("", "gemini-sa-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create credentials file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(serviceAccountJSON); err != nil {
		return "", fmt.Errorf("failed to write credentials file: %w", err)
	}
	return f.Name(), nil
}

// ProjectID returns the project the client is bound to.
func (c *GeminiClient) ProjectID() string {
	return c.projectID
}

// WithModel sets the model to use.
func (c *GeminiClient) WithModel(model string) *GeminiClient {
	c.model = model
	return c
}

// Close closes the client.
func (c *GeminiClient) Close() {
	// No explicit close needed for new SDK
}

// Converse sends a system instruction plus ordered conversation history and
// returns the next assistant utterance.
func (c *GeminiClient) Converse(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.RoleUser
		if m.Assistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Text}},
		})
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
