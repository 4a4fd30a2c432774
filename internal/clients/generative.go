package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

type GenerateResponse struct {
	Answer      string   `json:"answer"`
	Suggestions []string `json:"suggestions"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generative is the language-model backend behind the coach. Callers must
// treat every error as recoverable; the coach masks failures with its local
// fallback responder.
type Generative interface {
	Generate(ctx context.Context, prompt string) (*GenerateResponse, error)
}

type GenerativeClient struct {
	http   *HTTP
	url    string
	apiKey string
}

func NewGenerativeClient(http *HTTP, url, apiKey string) *GenerativeClient {
	return &GenerativeClient{http: http, url: url, apiKey: apiKey}
}

func (g *GenerativeClient) Generate(ctx context.Context, prompt string) (*GenerateResponse, error) {
	if g.url == "" {
		return nil, fmt.Errorf("generative backend not configured")
	}

	jsonData, err := json.Marshal(GenerateRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", g.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out GenerateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("generative backend error: %s", out.Error.Message)
	}
	if out.Answer == "" {
		return nil, fmt.Errorf("empty response from generative backend")
	}
	return &out, nil
}
