package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendArgs struct {
	ConversationID int64  `json:"conversation_id" description:"target conversation"`
	Text           string `json:"text"`
	ReplyTo        int64  `json:"reply_to,omitempty"`
}

func TestCreateSchema(t *testing.T) {
	s := CreateSchema(sendArgs{})

	props := s["properties"].(map[string]any)
	assert.Equal(t, "integer", props["conversation_id"].(map[string]any)["type"])
	assert.Equal(t, "target conversation", props["conversation_id"].(map[string]any)["description"])
	assert.ElementsMatch(t, []string{"conversation_id", "text"}, s["required"])
}

func TestValidateParameters(t *testing.T) {
	schema := CreateSchema(sendArgs{})
	schema["properties"].(map[string]any)["conversation_id"].(map[string]any)["minimum"] = 1
	schema["properties"].(map[string]any)["text"].(map[string]any)["minLength"] = 1

	require.NoError(t, ValidateParameters(map[string]any{"conversation_id": float64(5), "text": "hi"}, schema))

	err := ValidateParameters(map[string]any{"text": "hi"}, schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "conversation_id", verr.Field)

	err = ValidateParameters(map[string]any{"conversation_id": 1.5, "text": "hi"}, schema)
	require.ErrorAs(t, err, &verr)

	err = ValidateParameters(map[string]any{"conversation_id": int64(0), "text": "hi"}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, ">=")

	err = ValidateParameters(map[string]any{"conversation_id": int64(3), "text": "  "}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "text", verr.Field)
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = RenderTemplate(`Bot in chat {{.conversation_id}} replying to {{default "someone" .actor}} <b>`, map[string]any{
		"conversation_id": int64(2000000001),
		"actor":           "",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bot in chat 2000000001 replying to someone <b>", out)

	_, err = RenderTemplate("{{.broken", nil)
	assert.Error(t, err)
}
