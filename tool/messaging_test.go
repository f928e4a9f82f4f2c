package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind                   string
	conv, target, reaction int64
	text                   string
}

type fakeMessenger struct {
	calls []call
	err   error
}

func (f *fakeMessenger) SendMessage(_ context.Context, conv int64, text string, replyTo int64) (int64, error) {
	f.calls = append(f.calls, call{kind: "message", conv: conv, text: text, target: replyTo})
	return 101, f.err
}

func (f *fakeMessenger) SendReaction(_ context.Context, conv, target, reaction int64) (int64, error) {
	f.calls = append(f.calls, call{kind: "reaction", conv: conv, target: target, reaction: reaction})
	return 1, f.err
}

func TestSendMessageTool(t *testing.T) {
	m := &fakeMessenger{}
	r := NewPlatformRegistry(m)

	res, err := r.Call(context.Background(), SendMessageName, map[string]any{
		"conversation_id": int64(2000000001),
		"text":            " lol ",
		"reply_to_id":     int64(5),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(101), res)
	require.Len(t, m.calls, 1)
	assert.Equal(t, call{kind: "message", conv: 2000000001, text: "lol", target: 5}, m.calls[0])
}

func TestSendMessageToolRejectsBlankText(t *testing.T) {
	m := &fakeMessenger{}
	_, err := NewSendMessageTool(m).Call(context.Background(), map[string]any{
		"conversation_id": int64(1),
		"text":            "   ",
	})

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeValidation, te.Code)
	assert.Empty(t, m.calls)
}

func TestSendReactionTool(t *testing.T) {
	m := &fakeMessenger{}

	res, err := NewSendReactionTool(m).Call(context.Background(), map[string]any{
		"conversation_id": int64(2000000001),
		"target_id":       float64(9),
		"reaction_id":     int64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res)
	assert.Equal(t, []call{{kind: "reaction", conv: 2000000001, target: 9, reaction: 3}}, m.calls)

	_, err = NewSendReactionTool(m).Call(context.Background(), map[string]any{
		"conversation_id": int64(1),
		"target_id":       int64(0),
		"reaction_id":     int64(3),
	})
	assert.Error(t, err)
}

func TestPlatformToolErrors(t *testing.T) {
	down := errors.New("platform down")
	m := &fakeMessenger{err: down}

	_, err := NewSendMessageTool(m).Call(context.Background(), map[string]any{"conversation_id": int64(1), "text": "x"})
	assert.ErrorIs(t, err, down)

	_, err = NewSendMessageTool(nil).Call(context.Background(), map[string]any{"conversation_id": int64(1), "text": "x"})
	assert.ErrorIs(t, err, ErrNilMessenger)
}
