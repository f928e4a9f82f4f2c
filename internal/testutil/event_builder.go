package testutil

import (
	"time"

	"github.com/hupe1980/chatagent/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder().Conversation(2000000001).Actor(7).Message(5).Text("lol nice").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	ev core.Event
}

// NewEventBuilder creates a builder with an eligible default event.
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{ev: core.Event{
		ConversationID: 2000000001,
		ActorID:        7,
		MessageID:      1,
		Text:           "hello there",
		Timestamp:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}}
}

// Conversation sets the conversation id (chainable).
func (b *EventBuilder) Conversation(id int64) *EventBuilder { b.ev.ConversationID = id; return b }

// Actor sets the author id (chainable).
func (b *EventBuilder) Actor(id int64) *EventBuilder { b.ev.ActorID = id; return b }

// Message sets the message id (chainable).
func (b *EventBuilder) Message(id int64) *EventBuilder { b.ev.MessageID = id; return b }

// Text sets the message text verbatim (chainable).
func (b *EventBuilder) Text(t string) *EventBuilder { b.ev.Text = t; return b }

// At sets the timestamp (chainable).
func (b *EventBuilder) At(t time.Time) *EventBuilder { b.ev.Timestamp = t; return b }

// Build returns the event.
func (b *EventBuilder) Build() core.Event { return b.ev }

// StateBuilder helps construct pipeline states at an arbitrary stage.
// Example:
//
//	st := NewStateBuilder(ev).Mode(core.ModeShadow).Decision(d).Build()
type StateBuilder struct {
	st *core.State
}

// NewStateBuilder starts from core.NewState(ev, core.ModeActive).
func NewStateBuilder(ev core.Event) *StateBuilder {
	return &StateBuilder{st: core.NewState(ev, core.ModeActive)}
}

// Mode sets the execution mode (chainable).
func (b *StateBuilder) Mode(m core.Mode) *StateBuilder { b.st.Mode = m; return b }

// Context applies an observed context (chainable).
func (b *StateBuilder) Context(c core.ContextBundle) *StateBuilder {
	b.st.Apply(core.Update{Stage: core.StageObserved, Context: &c})
	return b
}

// Decision applies a decision (chainable).
func (b *StateBuilder) Decision(d core.Decision) *StateBuilder {
	b.st.Apply(core.Update{Stage: core.StageDecided, Decision: &d})
	return b
}

// Result applies an action result (chainable).
func (b *StateBuilder) Result(r core.ActionResult) *StateBuilder {
	b.st.Apply(core.Update{Stage: core.StageActed, Result: &r})
	return b
}

// Build returns the state.
func (b *StateBuilder) Build() *core.State { return b.st }
