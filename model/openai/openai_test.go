package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chatagent/model"
)

var _ model.Model = (*Model)(nil)

const completion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "venice-uncensored",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": " {\"action\":\"none\"} "}}],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func newTestServer(t *testing.T, body string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate_StrictSchemaAndExtraBody(t *testing.T) {
	var got map[string]any
	srv := newTestServer(t, completion, &got)

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL
		o.Model = "venice-uncensored"
		o.LegacyMaxTokens = true
		o.MaxRetries = 0
		o.ExtraBody = map[string]any{"venice_parameters": map[string]any{"include_venice_system_prompt": false}}
	})

	resp, err := m.Generate(context.Background(), model.Request{
		Instructions: "sys",
		Messages:     []model.Message{{Role: model.RoleUser, Content: "hi"}},
		MaxTokens:    100,
		Schema: &model.ResponseSchema{
			Name:   "chat_action",
			Schema: map[string]any{"type": "object"},
			Strict: true,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"action":"none"}`, resp.Text)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "venice-uncensored", got["model"])
	assert.Equal(t, float64(100), got["max_tokens"])
	assert.NotContains(t, got, "max_completion_tokens")
	assert.Contains(t, got, "venice_parameters")

	rf, ok := got["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", rf["type"])
	js := rf["json_schema"].(map[string]any)
	assert.Equal(t, "chat_action", js["name"])
	assert.Equal(t, true, js["strict"])

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestGenerate_RelaxedHasNoResponseFormat(t *testing.T) {
	var got map[string]any
	srv := newTestServer(t, completion, &got)

	m := NewModel(func(o *Options) { o.APIKey = "test"; o.BaseURL = srv.URL; o.MaxRetries = 0 })
	_, err := m.Generate(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	assert.NotContains(t, got, "response_format")
	assert.Contains(t, got, "max_completion_tokens")
	assert.Equal(t, "openai-compatible", m.Info().Provider)
}

func TestGenerate_EmptyChoices(t *testing.T) {
	var got map[string]any
	srv := newTestServer(t, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`, &got)

	m := NewModel(func(o *Options) { o.APIKey = "test"; o.BaseURL = srv.URL; o.MaxRetries = 0 })
	_, err := m.Generate(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, model.ErrEmptyResponse)
}

func TestGenerate_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"bad schema"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) { o.APIKey = "test"; o.BaseURL = srv.URL; o.MaxRetries = 0 })
	_, err := m.Generate(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai api error")
}
