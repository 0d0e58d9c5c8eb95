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

// maxResponseSize caps how much of a provider response body is read.
const maxResponseSize = 4 << 20

// OpenAIProvider uses the OpenAI chat completions API when keys are configured.
type OpenAIProvider struct {
	keyName string
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	model := strings.TrimSpace(os.Getenv("VOS_OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		keyName: keyName,
		apiKey:  resolveKey("VOS_OPENAI_KEY_", "OPENAI_API_KEY", keyName),
		model:   model,
		baseURL: "https://api.openai.com/v1",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "openai", Model: o.model, Key: o.keyName}
	if o.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("openai alias %q: %w", o.keyName, ErrMissingKey)
	}
	text, err := chatCompletion(ctx, o.client, "openai", o.baseURL+"/chat/completions", o.apiKey, o.model, req)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: text}, info, nil
}

// chatCompletion calls an OpenAI-compatible /chat/completions endpoint.
func chatCompletion(ctx context.Context, client *http.Client, name, url, apiKey, model string, req GenerateRequest) (string, error) {
	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})
	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", name, err)
	}
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s generate request failed: %w", name, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s generate error %d: %s", name, resp.StatusCode, string(raw))
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode %s response: %w", name, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s returned empty choices", name)
	}
	return parsed.Choices[0].Message.Content, nil
}

func resolveKey(aliasPrefix, fallbackEnv, alias string) string {
	if alias != "" {
		if v := os.Getenv(aliasPrefix + sanitizeEnvToken(alias)); v != "" {
			return v
		}
	}
	return os.Getenv(fallbackEnv)
}

func sanitizeEnvToken(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}
