package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient calls the Gemini generateContent API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient builds a client for the Gemini developer API, or baseURL
// when set.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: "v1",
			BaseURL:    baseURL,
		},
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &GeminiClient{client: cli}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("nil gemini client")
	}
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + prompt
	}
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](defaultChatTemperature),
	})
	if err != nil {
		if apiErr, ok := asGeminiError(err); ok {
			return "", &UpstreamError{
				Provider:   ProviderGemini,
				StatusCode: apiErr.Code,
				Body:       geminiErrorBody(apiErr),
			}
		}
		return "", err
	}
	return firstCandidateText(resp), nil
}

func asGeminiError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

// geminiErrorBody re-encodes the decoded error object, which is the "error"
// member of the upstream body.
func geminiErrorBody(apiErr genai.APIError) string {
	raw, err := json.Marshal(apiErr)
	if err != nil {
		return apiErr.Error()
	}
	return string(raw)
}

func firstCandidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
