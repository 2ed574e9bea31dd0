package providers

import "context"

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type GenerateRequest struct {
	Operation    string  `json:"operation"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EncodedImage struct {
	MediaType string `json:"media_type"`
	Base64    string `json:"base64"`
	Detail    string `json:"detail,omitempty"`
}

type VisionRequest struct {
	Operation string         `json:"operation"`
	Prompt    string         `json:"prompt"`
	Images    []EncodedImage `json:"images"`
}

// TextProvider is the text generation capability. Implementations call the
// external service; the mock returns deterministic output.
type TextProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

// VisionProvider reads page images. Kept separate from TextProvider because
// vision and text models are configured independently.
type VisionProvider interface {
	Describe(ctx context.Context, req VisionRequest) (GenerateResponse, ProviderInfo, error)
}
