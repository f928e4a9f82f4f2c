package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/internal/testutil"
)

func TestRecorder(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	ev := testutil.NewEventBuilder().Conversation(2000000001).Message(5).Build()

	tests := []struct {
		name  string
		state *core.State
		want  []testutil.HistoryEntry
	}{
		{
			name: "executed message is stored",
			state: testutil.NewStateBuilder(ev).
				Decision(core.Decision{Action: core.ActionSendMessage, Text: "lol"}).
				Result(core.ActionResult{Executed: true, Method: core.MethodSendMessage, ExternalID: 101}).
				Build(),
			want: []testutil.HistoryEntry{{ConversationID: 2000000001, Text: "lol", At: now}},
		},
		{
			name: "reaction is not stored",
			state: testutil.NewStateBuilder(ev).
				Decision(core.Decision{Action: core.ActionReact, TargetID: 5, ReactionID: 3}).
				Result(core.ActionResult{Executed: true, Method: core.MethodSendReaction, ExternalID: 1}).
				Build(),
		},
		{
			name: "shadow is not stored",
			state: testutil.NewStateBuilder(ev).Mode(core.ModeShadow).
				Decision(core.Decision{Action: core.ActionSendMessage, Text: "lol"}).
				Result(core.ActionResult{Method: core.MethodShadow}).
				Build(),
		},
		{
			name: "failed send is not stored",
			state: testutil.NewStateBuilder(ev).
				Decision(core.Decision{Action: core.ActionSendMessage, Text: "lol"}).
				Result(core.ActionResult{Method: core.MethodSendMessage, Error: "boom"}).
				Build(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &testutil.HistoryRecorder{}
			r := NewRecorder(func(o *RecorderOptions) {
				o.History = h
				o.Now = func() time.Time { return now }
			})

			u := r.Run(context.Background(), tt.state)
			assert.Equal(t, core.StageRecorded, u.Stage)
			assert.Equal(t, tt.want, h.Entries())
		})
	}
}

func TestRecorderHistoryFailureIsSwallowed(t *testing.T) {
	h := &testutil.HistoryRecorder{Err: errors.New("disk full")}
	ev := testutil.NewEventBuilder().Build()
	st := testutil.NewStateBuilder(ev).
		Decision(core.Decision{Action: core.ActionSendMessage, Text: "lol"}).
		Result(core.ActionResult{Executed: true, Method: core.MethodSendMessage}).
		Build()

	u := NewRecorder(func(o *RecorderOptions) { o.History = h }).Run(context.Background(), st)
	assert.Equal(t, core.StageRecorded, u.Stage)
	assert.Empty(t, u.Error)
}
