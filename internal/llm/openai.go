package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient calls the OpenAI Chat Completions API.
type OpenAIClient struct {
	client *openai.Client
}

const defaultChatTemperature = 0.2

// NewOpenAIClient builds a client against api.openai.com, or baseURL when set.
// SDK retries are disabled so each generation is a single upstream call.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	cli := openai.NewClient(opts...)
	return &OpenAIClient{client: &cli}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("nil openai client")
	}
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    buildMessages(req.System, req.Prompt),
		Temperature: openai.Float(defaultChatTemperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &UpstreamError{
				Provider:   ProviderOpenAI,
				StatusCode: apiErr.StatusCode,
				Body:       openAIErrorBody(apiErr),
			}
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func buildMessages(system, user string) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(system),
				},
			},
		})
	}
	return append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(user),
			},
		},
	})
}

// openAIErrorBody recovers the raw response body; the SDK re-populates
// Response.Body after decoding the error.
func openAIErrorBody(apiErr *openai.Error) string {
	if apiErr.Response != nil && apiErr.Response.Body != nil {
		if raw, err := io.ReadAll(apiErr.Response.Body); err == nil && len(raw) > 0 {
			return string(raw)
		}
	}
	if raw := apiErr.RawJSON(); raw != "" {
		return raw
	}
	return apiErr.Error()
}
