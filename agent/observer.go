package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/gate"
	"github.com/hupe1980/chatagent/logging"
)

// ObserverOptions configure the Observer.
type ObserverOptions struct {
	// Source answers the three context lookups. Nil yields empty context.
	Source core.ContextSource
	// Snapshot returns the gate counters for a conversation.
	Snapshot func(conversationID int64) gate.Snapshot
	// TurnLimit is how many recent turns are requested.
	TurnLimit int
	// Timeout bounds each individual lookup.
	Timeout time.Duration
	// MaxChars caps the aggregate size of the bundle.
	MaxChars int
	Logger   logging.Logger
}

// Observer builds the ContextBundle for an event. Lookups run concurrently
// and each one may fail without affecting the others.
type Observer struct {
	opts ObserverOptions
}

var _ Stage = (*Observer)(nil)

// NewObserver creates an Observer.
func NewObserver(optFns ...func(o *ObserverOptions)) *Observer {
	opts := ObserverOptions{
		TurnLimit: 14,
		Timeout:   3 * time.Second,
		MaxChars:  4000,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TurnLimit < 1 {
		opts.TurnLimit = 1
	}
	return &Observer{opts: opts}
}

// Name returns core.StageObserved.
func (o *Observer) Name() core.Stage { return core.StageObserved }

// Run gathers context for st.Event.
func (o *Observer) Run(ctx context.Context, st *core.State) core.Update {
	ev := st.Event
	bundle := &core.ContextBundle{}

	if src := o.opts.Source; src != nil {
		var (
			g       errgroup.Group
			summary string
			note    string
			turns   []core.Turn
		)

		o.safeGo(&g, "summary", ev, func() {
			summary = o.lookup(ctx, "summary", ev, func(ctx context.Context) (string, error) {
				return src.Summary(ctx, ev.ConversationID)
			})
		})
		o.safeGo(&g, "actor_note", ev, func() {
			note = o.lookup(ctx, "actor_note", ev, func(ctx context.Context) (string, error) {
				return src.ActorNote(ctx, ev.ConversationID, ev.ActorID)
			})
		})
		o.safeGo(&g, "recent_turns", ev, func() {
			lctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
			defer cancel()
			t, err := src.RecentTurns(lctx, ev.ConversationID, o.opts.TurnLimit, ev.MessageID)
			if err != nil {
				o.opts.Logger.Debug("observe.lookup_failed", "fragment", "recent_turns",
					"conversation_id", ev.ConversationID, "error", err.Error())
				return
			}
			turns = t
		})

		_ = g.Wait()

		bundle.Summary = summary
		bundle.ActorNote = note
		bundle.RecentTurns = turns
	}

	if o.opts.Snapshot != nil {
		snap := o.opts.Snapshot(ev.ConversationID)
		bundle.MessagesSinceAction = snap.MessagesSinceAction
		bundle.LastActionAt = snap.LastActionAt
	}

	if dropped := capBundle(bundle, o.opts.MaxChars); dropped > 0 {
		o.opts.Logger.Debug("observe.context_capped", "conversation_id", ev.ConversationID,
			"max_chars", o.opts.MaxChars, "dropped_chars", dropped)
	}

	return core.Update{Stage: core.StageObserved, Context: bundle}
}

// safeGo runs fn on g. A panic in fn is logged and leaves its fragment empty;
// it never reaches the caller's goroutine.
func (o *Observer) safeGo(g *errgroup.Group, fragment string, ev core.Event, fn func()) {
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				o.opts.Logger.Debug("observe.lookup_panicked", "fragment", fragment,
					"conversation_id", ev.ConversationID, "panic", fmt.Sprint(r))
			}
		}()
		fn()
		return nil
	})
}

func (o *Observer) lookup(ctx context.Context, fragment string, ev core.Event, fn func(context.Context) (string, error)) string {
	lctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	v, err := fn(lctx)
	if err != nil {
		o.opts.Logger.Debug("observe.lookup_failed", "fragment", fragment,
			"conversation_id", ev.ConversationID, "error", err.Error())
		return ""
	}
	return v
}

// capBundle trims b to at most max characters: oldest turns first, then the
// actor note, then the summary. It returns the number of characters removed.
func capBundle(b *core.ContextBundle, max int) int {
	if max <= 0 {
		return 0
	}

	before := b.Size()
	for b.Size() > max && len(b.RecentTurns) > 0 {
		b.RecentTurns = b.RecentTurns[1:]
	}
	b.ActorNote = clipBy(b.ActorNote, b.Size()-max)
	b.Summary = clipBy(b.Summary, b.Size()-max)

	return before - b.Size()
}

// clipBy removes up to over trailing runes from s.
func clipBy(s string, over int) string {
	if over <= 0 {
		return s
	}
	r := []rune(s)
	if over >= len(r) {
		return ""
	}
	return string(r[:len(r)-over])
}
