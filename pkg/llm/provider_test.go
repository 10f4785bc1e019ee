package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionJSON = `{
  "id": "gen-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "openai/gpt-5",
  "provider": "OpenAI",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "discard the low cards",
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "discard", "arguments": "{\"cards\":[4,5]}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 1200, "completion_tokens": 80, "total_tokens": 1280, "cost": 0.0042}
}`

func TestOpenAIProvider(t *testing.T) {
	var gotBody map[string]any
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionJSON))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL, DefaultModelConfig())

	resp, err := p.Complete(context.Background(), Request{
		Model:  "openai/gpt-5",
		Prompt: "state",
		Tools: []Tool{{
			Name:        "discard",
			Description: "Discard cards",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"cards": map[string]any{"type": "array"}}},
		}},
	})
	require.NoError(t, err)

	t.Run("should parse tool calls usage and cost", func(t *testing.T) {
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "discard", resp.ToolCalls[0].Name)
		assert.JSONEq(t, `{"cards":[4,5]}`, resp.ToolCalls[0].Arguments)
		assert.Equal(t, "discard the low cards", resp.Text)
		assert.Equal(t, "tool_calls", resp.FinishReason)
		assert.Equal(t, 1200, resp.Usage.InputTokens)
		assert.Equal(t, 80, resp.Usage.OutputTokens)
		assert.InDelta(t, 0.0042, resp.Usage.Cost, 1e-9)
		assert.Equal(t, "OpenAI", resp.Provider)
	})

	t.Run("should forward model config as headers and body fields", func(t *testing.T) {
		assert.Equal(t, "BalatroLLM", gotHeaders.Get("X-Title"))
		assert.Equal(t, "Bearer sk-test", gotHeaders.Get("Authorization"))
		assert.Equal(t, "openai/gpt-5", gotBody["model"])
		assert.Equal(t, false, gotBody["parallel_tool_calls"])
		assert.Equal(t, "auto", gotBody["tool_choice"])
		assert.Equal(t, map[string]any{"include": true}, gotBody["usage"])
		assert.Len(t, gotBody["tools"], 1)
	})
}

func TestNewProvider(t *testing.T) {
	t.Run("should default to the openai compatible provider", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
	})

	t.Run("should build the anthropic provider", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{Kind: "anthropic", APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
	})

	t.Run("should reject unknown providers and missing keys", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Kind: "gemini", APIKey: "k"})
		assert.Error(t, err)
		_, err = NewProvider(ProviderConfig{})
		assert.Error(t, err)
	})
}

func TestRequestBody(t *testing.T) {
	req := Request{Model: "a/b", Prompt: "hi", Tools: []Tool{{Name: "play"}}}
	body := req.Body(DefaultModelConfig())

	assert.Equal(t, "a/b", body["model"])
	assert.Equal(t, 1, body["seed"])
	assert.NotContains(t, body, "extra_headers")
	assert.NotContains(t, body, "extra_body")
	assert.Contains(t, body, "usage")
	assert.Len(t, body["messages"], 1)
}
