// Package llm holds the clients for the external text and vision
// classifier services. Both are plain JSON-over-HTTP APIs with a bounded
// client timeout and no retries; callers own the fallback behaviour.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"support-service/internal/util"
)

// ErrEmptyCompletion is returned when the service answers without text
var ErrEmptyCompletion = errors.New("llm: empty completion")

// ChatClient talks to an OpenAI-compatible chat completions endpoint (Groq)
type ChatClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewChatClient creates a chat completions client
func NewChatClient(baseURL, apiKey, model string, timeout time.Duration) *ChatClient {
	return &ChatClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends prompt as a single user message and returns the trimmed answer
func (c *ChatClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ctx, span := util.StartSpan(ctx, "ChatClient.Complete")
	defer span.End()

	if c.apiKey == "" {
		return "", errors.New("llm: chat api key not configured")
	}

	start := time.Now()
	defer func() {
		util.UpstreamLatency.WithLabelValues("text_classifier").Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat marshal error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("chat read error: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("chat api error (%d): %s", resp.StatusCode, truncate(raw, 300))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("chat parse error: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
