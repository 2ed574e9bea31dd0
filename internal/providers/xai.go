package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const xaiChatURL = "https://api.x.ai/v1/chat/completions"

const defaultSystemPrompt = "You are a meticulous, structured assistant for a manga-to-novel " +
	"pipeline. Always follow the requested format exactly."

// XAIProvider talks to the xAI chat completions API, which is used both for
// text generation and for page-image understanding.
type XAIProvider struct {
	keyName     string
	apiKey      string
	textModel   string
	visionModel string
	client      *http.Client
}

func NewXAIProvider(keyName, textModel, visionModel string, timeout time.Duration) *XAIProvider {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &XAIProvider{
		keyName:     keyName,
		apiKey:      resolveXAIKey(keyName),
		textModel:   textModel,
		visionModel: visionModel,
		client:      &http.Client{Timeout: timeout},
	}
}

type xaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type xaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *xaiImageURL `json:"image_url,omitempty"`
}

type xaiImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

func (x *XAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "xai", Model: x.textModel, Key: x.keyName}
	if x.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("xai key missing for alias %q", x.keyName)
	}
	system := req.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	messages := []xaiMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: req.Prompt},
	}
	text, err := x.complete(ctx, x.textModel, messages, req.Temperature)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: text}, info, nil
}

func (x *XAIProvider) Describe(ctx context.Context, req VisionRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "xai", Model: x.visionModel, Key: x.keyName}
	if x.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("xai key missing for alias %q", x.keyName)
	}
	parts := make([]xaiContentPart, 0, len(req.Images)+1)
	parts = append(parts, xaiContentPart{Type: "text", Text: req.Prompt})
	for _, img := range req.Images {
		mediaType := img.MediaType
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
		parts = append(parts, xaiContentPart{
			Type: "image_url",
			ImageURL: &xaiImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", mediaType, img.Base64),
				Detail: img.Detail,
			},
		})
	}
	messages := []xaiMessage{{Role: "user", Content: parts}}
	text, err := x.complete(ctx, x.visionModel, messages, 0)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: text}, info, nil
}

func (x *XAIProvider) complete(ctx context.Context, model string, messages []xaiMessage, temperature float32) (string, error) {
	body := map[string]any{"model": model, "messages": messages}
	if temperature > 0 {
		body["temperature"] = temperature
	}
	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, xaiChatURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build xai request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+x.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := x.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("xai request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("xai error %d: %s", resp.StatusCode, string(raw))
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode xai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("xai returned empty choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func resolveXAIKey(alias string) string {
	if alias != "" {
		if k := os.Getenv("MANGAFLOW_XAI_KEY_" + strings.ToUpper(alias)); k != "" {
			return k
		}
	}
	return os.Getenv("XAI_API_KEY")
}
