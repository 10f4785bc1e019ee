package llm

import (
	"context"
	"encoding/json"
	"sort"
)

// Provider is a decision endpoint.
type Provider interface {
	// Complete sends one request. It does not retry.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// Tool is a function the model may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request is one decision request.
type Request struct {
	Model  string
	System string
	Prompt string
	Tools  []Tool
}

// Body returns the request in chat-completions wire shape, as recorded in run logs.
func (r Request) Body(modelConfig map[string]any) map[string]any {
	messages := []map[string]any{}
	if r.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": r.System})
	}
	messages = append(messages, map[string]any{"role": "user", "content": r.Prompt})

	tools := make([]map[string]any, 0, len(r.Tools))
	for _, t := range r.Tools {
		tools = append(tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}

	body := map[string]any{}
	keys := make([]string, 0, len(modelConfig))
	for k := range modelConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "extra_headers" {
			continue
		}
		if k == "extra_body" {
			if extra, ok := modelConfig[k].(map[string]any); ok {
				for ek, ev := range extra {
					body[ek] = ev
				}
			}
			continue
		}
		body[k] = modelConfig[k]
	}
	body["model"] = r.Model
	body["messages"] = messages
	body["tools"] = tools
	return body
}

// ToolCall is a tool invocation as returned by the endpoint; Arguments is unparsed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost,omitempty"`
}

// Response is a raw endpoint reply.
type Response struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Provider     string          `json:"provider,omitempty"`
	Text         string          `json:"text,omitempty"`
	ToolCalls    []ToolCall      `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        TokenUsage      `json:"usage"`
	Raw          json.RawMessage `json:"-"`
}
