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

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider is the secondary text and vision backend used for failover
// when the primary provider list is exhausted.
type OpenAIProvider struct {
	keyName     string
	apiKey      string
	textModel   string
	visionModel string
	client      *http.Client
}

func NewOpenAIProvider(keyName, textModel, visionModel string, timeout time.Duration) *OpenAIProvider {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if textModel == "" {
		textModel = "gpt-4o"
	}
	if visionModel == "" {
		visionModel = "gpt-4o"
	}
	return &OpenAIProvider{
		keyName:     keyName,
		apiKey:      resolveOpenAIKey(keyName),
		textModel:   textModel,
		visionModel: visionModel,
		client:      &http.Client{Timeout: timeout},
	}
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "openai", Model: o.textModel, Key: o.keyName}
	if o.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	system := req.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	messages := []xaiMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: req.Prompt},
	}
	text, err := o.complete(ctx, o.textModel, messages, req.Temperature)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: text}, info, nil
}

func (o *OpenAIProvider) Describe(ctx context.Context, req VisionRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "openai", Model: o.visionModel, Key: o.keyName}
	if o.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("openai key missing for alias %q", o.keyName)
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
	text, err := o.complete(ctx, o.visionModel, messages, 0)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: text}, info, nil
}

func (o *OpenAIProvider) complete(ctx context.Context, model string, messages []xaiMessage, temperature float32) (string, error) {
	body := map[string]any{"model": model, "messages": messages}
	if temperature > 0 {
		body["temperature"] = temperature
	}
	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build openai request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("openai error %d: %s", resp.StatusCode, string(raw))
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai returned empty choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func resolveOpenAIKey(alias string) string {
	if alias != "" {
		if k := os.Getenv("MANGAFLOW_OPENAI_KEY_" + strings.ToUpper(alias)); k != "" {
			return k
		}
	}
	return os.Getenv("OPENAI_API_KEY")
}
