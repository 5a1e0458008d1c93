package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"support-service/internal/util"
)

// VisionClient calls the Gemini generateContent API with inline image data
type VisionClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewVisionClient creates a vision classifier client
func NewVisionClient(baseURL, apiKey, model string, timeout time.Duration) *VisionClient {
	return &VisionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

// Model returns the configured model name
func (c *VisionClient) Model() string {
	return c.model
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []contentPart `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ClassifyImage sends prompt and image and returns the model's text answer
func (c *VisionClient) ClassifyImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	ctx, span := util.StartSpan(ctx, "VisionClient.ClassifyImage")
	defer span.End()

	if c.apiKey == "" {
		return "", errors.New("llm: vision api key not configured")
	}

	start := time.Now()
	defer func() {
		util.UpstreamLatency.WithLabelValues("vision_classifier").Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Parts: []contentPart{
				{Text: prompt},
				{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("vision marshal error: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("vision read error: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("vision api error (%d): %s", resp.StatusCode, truncate(raw, 300))
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("vision parse error: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("vision error (%d): %s", parsed.Error.Code, parsed.Error.Message)
	}

	var sb strings.Builder
	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
