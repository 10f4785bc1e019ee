package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client      openai.Client
	modelConfig map[string]any
}

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(apiKey, baseURL string, modelConfig map[string]any) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client:      openai.NewClient(opts...),
		modelConfig: modelConfig,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete makes one chat completion call
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	response, err := p.client.Chat.Completions.New(ctx, params, requestOptions(p.modelConfig)...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}
	choice := response.Choices[0]

	out := &Response{
		ID:           response.ID,
		Model:        response.Model,
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
		Raw: json.RawMessage(response.RawJSON()),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	// OpenRouter reports the upstream provider and billed cost outside the standard schema.
	var extra struct {
		Provider string `json:"provider"`
		Usage    struct {
			Cost float64 `json:"cost"`
		} `json:"usage"`
	}
	if len(out.Raw) > 0 && json.Unmarshal(out.Raw, &extra) == nil {
		out.Provider = extra.Provider
		out.Usage.Cost = extra.Usage.Cost
	}

	return out, nil
}

// requestOptions turns model_config into per-request options: extra_headers
// become HTTP headers, extra_body and every other key are merged into the JSON body.
func requestOptions(modelConfig map[string]any) []option.RequestOption {
	keys := make([]string, 0, len(modelConfig))
	for k := range modelConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := []option.RequestOption{}
	for _, k := range keys {
		v := modelConfig[k]
		switch k {
		case "extra_headers":
			if headers, ok := v.(map[string]any); ok {
				for name, value := range headers {
					opts = append(opts, option.WithHeader(name, fmt.Sprint(value)))
				}
			}
		case "extra_body":
			if body, ok := v.(map[string]any); ok {
				for name, value := range body {
					opts = append(opts, option.WithJSONSet(name, value))
				}
			}
		default:
			opts = append(opts, option.WithJSONSet(k, v))
		}
	}
	return opts
}
