package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mwidz/offerlens/internal/model"
)

// Client sends one prompt pair to a chat-completion endpoint and returns the
// raw text completion. Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ChatClient talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, xAI, lm-studio, ollama). It holds no mutable state across calls.
type ChatClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewChatClient creates a client for the given endpoint. apiKey may be empty
// for local servers that skip authentication.
func NewChatClient(baseURL, apiKey, modelID string, httpClient *http.Client) *ChatClient {
	return &ChatClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      modelID,
		httpClient: httpClient,
	}
}

// chatRequest mirrors the OpenAI /chat/completions request body.
// Temperature stays very low for stable JSON output from small models.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse mirrors the relevant fields of the response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the prompt pair and returns the model's raw completion text.
// Transport failures and non-2xx responses surface as *UnavailableError;
// authentication failures surface as *ConfigError.
func (c *ChatClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if userPrompt == "" {
		return "", &ConfigError{Reason: "empty prompt"}
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.05,
		MaxTokens:   4096,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal llm request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UnavailableError{Err: fmt.Errorf("llm request: %w", err)}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UnavailableError{Err: fmt.Errorf("read llm response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &ConfigError{
			Reason: "authentication rejected",
			Err:    &model.HTTPError{StatusCode: resp.StatusCode},
		}
	case resp.StatusCode != http.StatusOK:
		return "", &UnavailableError{
			Err: &model.HTTPError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%s", truncate(respBytes, 200)),
			},
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBytes, &chatResp); err != nil {
		return "", &UnavailableError{Err: fmt.Errorf("parse llm response: %w", err)}
	}

	if chatResp.Error != nil {
		return "", &UnavailableError{Err: fmt.Errorf("llm error (%s): %s", chatResp.Error.Type, chatResp.Error.Message)}
	}

	if len(chatResp.Choices) == 0 {
		return "", &UnavailableError{Err: fmt.Errorf("llm returned no choices")}
	}

	return chatResp.Choices[0].Message.Content, nil
}

// Health probes the /models endpoint. Used as a preflight check before a run.
func (c *ChatClient) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
