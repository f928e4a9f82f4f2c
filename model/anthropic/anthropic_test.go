package anthropic

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

func TestBuildMessages_MergesConsecutiveRoles(t *testing.T) {
	msgs := buildMessages([]model.Message{
		{Role: model.RoleSystem, Content: "ignored here"},
		{Role: model.RoleUser, Content: "a"},
		{Role: model.RoleUser, Content: "b"},
		{Role: model.RoleAssistant, Content: "c"},
		{Role: "tool", Content: "d"},
		{Role: model.RoleUser, Content: ""},
	})

	require.Len(t, msgs, 3)
	raw, err := json.Marshal(msgs)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `a\n\nb`)
}

func TestBuildSchemaTool(t *testing.T) {
	tool := buildSchemaTool(&model.ResponseSchema{
		Name:        "chat_action",
		Description: "pick one action",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"action": map[string]any{"type": "string"}},
			"required":   []any{"action"},
		},
	})

	require.NotNil(t, tool.OfTool)
	assert.Equal(t, "chat_action", tool.OfTool.Name)
	assert.Equal(t, []string{"action"}, tool.OfTool.InputSchema.Required)
}

func TestGenerate_ForcedToolInputIsResponse(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
		  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude",
		  "stop_reason": "tool_use",
		  "content": [{"type": "tool_use", "id": "tu_1", "name": "chat_action", "input": {"action": "react", "target_id": 9, "reaction_id": 3}}],
		  "usage": {"input_tokens": 3, "output_tokens": 4}
		}`)
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) { o.APIKey = "test"; o.BaseURL = srv.URL; o.MaxRetries = 0 })
	resp, err := m.Generate(context.Background(), model.Request{
		Instructions: "sys",
		Messages:     []model.Message{{Role: model.RoleUser, Content: "hi"}},
		Schema:       &model.ResponseSchema{Name: "chat_action", Schema: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Text), &decoded))
	assert.Equal(t, "react", decoded["action"])
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	choice := got["tool_choice"].(map[string]any)
	assert.Equal(t, "tool", choice["type"])
	assert.Equal(t, "chat_action", choice["name"])
}
