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

const anthropicVersion = "2023-06-01"

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	keyName string
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewAnthropicProvider(keyName string) *AnthropicProvider {
	model := strings.TrimSpace(os.Getenv("VOS_ANTHROPIC_MODEL"))
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	baseURL := strings.TrimSpace(os.Getenv("VOS_ANTHROPIC_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		keyName: keyName,
		apiKey:  resolveKey("VOS_ANTHROPIC_KEY_", "ANTHROPIC_API_KEY", keyName),
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
}

func (a *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "anthropic", Model: a.model, Key: a.keyName}
	if a.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("anthropic alias %q: %w", a.keyName, ErrMissingKey)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := anthropicRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
		System:    req.System,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("encode anthropic request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("anthropic generate request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if resp.StatusCode >= 400 {
		return GenerateResponse{}, info, fmt.Errorf("anthropic generate error %d: %s", resp.StatusCode, string(raw))
	}
	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return GenerateResponse{}, info, fmt.Errorf("decode anthropic response: %w", err)
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return GenerateResponse{}, info, fmt.Errorf("anthropic returned no text content (stop_reason=%s)", parsed.StopReason)
	}
	if parsed.Model != "" {
		info.Model = parsed.Model
	}
	return GenerateResponse{Text: text.String()}, info, nil
}
