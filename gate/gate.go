// Package gate implements the eligibility filter and per-conversation
// concurrency gate that admits at most one pipeline invocation per
// conversation at a time.
//
// The gate is an explicit registry owned by the runtime instance. Entries are
// created lazily on first sight of a conversation and live for the lifetime
// of the process. Acquisition never blocks: an invocation that finds its
// conversation busy is dropped, not queued.
package gate

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/logging"
)

// Policy holds the admission heuristics evaluated inside the critical section.
type Policy struct {
	// Cooldown is the minimum time between two executed actions.
	Cooldown time.Duration
	// MinMessages is the number of eligible messages that must arrive after
	// the last executed action.
	MinMessages int
	// Probability is the Bernoulli sampling rate in [0, 1].
	Probability float64
}

// Rejection explains why an admission attempt failed. The empty value means
// the invocation was admitted.
type Rejection string

const (
	Admitted          Rejection = ""
	RejectContention  Rejection = "contention"
	RejectCooldown    Rejection = "cooldown"
	RejectMinMessages Rejection = "min_messages"
	RejectSampling    Rejection = "sampling"
)

// Options configure a Gate.
type Options struct {
	// Policy returns the live admission policy. It is consulted on every
	// attempt so hot-reloaded configuration applies immediately.
	Policy func() Policy
	// SelfID is the bot's own actor id; its messages are never eligible.
	SelfID int64
	// CommandPrefix marks command messages, which are never eligible.
	CommandPrefix string
	// MinTextLength is the minimum trimmed length in runes.
	MinTextLength int
	// Rand returns a float in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Logger receives debug traces of admission decisions.
	Logger logging.Logger
}

type entry struct {
	run sync.Mutex // held for the whole pipeline invocation

	mu                  sync.Mutex // guards the counters below
	lastActionAt        time.Time
	messagesSinceAction int
}

// Gate is the per-conversation registry. It is safe for concurrent use.
type Gate struct {
	opts Options

	mu      sync.Mutex
	entries map[int64]*entry
}

// New constructs a Gate.
func New(optFns ...func(o *Options)) *Gate {
	opts := Options{
		Policy:        func() Policy { return Policy{Probability: 1} },
		CommandPrefix: "/",
		MinTextLength: 3,
		Rand:          rand.Float64,
		Now:           time.Now,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Gate{opts: opts, entries: make(map[int64]*entry)}
}

// IsEligible reports whether ev may be considered at all. It rejects short or
// empty text, command-prefixed text, non-positive identifiers, self-directed
// messages and messages authored by the bot itself.
func (g *Gate) IsEligible(ev core.Event) bool {
	if ev.ConversationID <= 0 || ev.ActorID <= 0 {
		return false
	}
	if ev.ActorID == ev.ConversationID {
		return false
	}
	if g.opts.SelfID != 0 && ev.ActorID == g.opts.SelfID {
		return false
	}
	text := strings.TrimSpace(ev.Text)
	if utf8.RuneCountInString(text) < g.opts.MinTextLength || text == "" {
		return false
	}
	if g.opts.CommandPrefix != "" && strings.HasPrefix(text, g.opts.CommandPrefix) {
		return false
	}
	return true
}

func (g *Gate) entry(conversationID int64) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[conversationID]
	if !ok {
		e = &entry{}
		g.entries[conversationID] = e
	}
	return e
}

// Observe counts one eligible message for the conversation and returns the
// updated counter. It runs whether or not the message is later admitted.
func (g *Gate) Observe(conversationID int64) int {
	e := g.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.messagesSinceAction++
	return e.messagesSinceAction
}

// TryAdmit attempts to admit an invocation without blocking. On success the
// caller owns the conversation until it calls release.
func (g *Gate) TryAdmit(conversationID int64) (release func(), ok bool) {
	release, r := g.Admit(conversationID)
	return release, r == Admitted
}

// Admit is TryAdmit with the rejection reason. The returned release func is
// nil unless the invocation was admitted.
func (g *Gate) Admit(conversationID int64) (func(), Rejection) {
	e := g.entry(conversationID)
	p := g.opts.Policy()

	// Pre-check without the run lock to avoid contending for conversations
	// that cannot be admitted anyway.
	if r := g.check(e, p); r != Admitted {
		return nil, r
	}

	if !e.run.TryLock() {
		g.opts.Logger.Debug("gate.admit.contention", "conversation_id", conversationID)
		return nil, RejectContention
	}

	// State may have changed between the pre-check and acquisition.
	if r := g.check(e, p); r != Admitted {
		e.run.Unlock()
		return nil, r
	}

	if !g.sample(p.Probability) {
		e.run.Unlock()
		return nil, RejectSampling
	}

	var once sync.Once
	return func() { once.Do(e.run.Unlock) }, Admitted
}

// Acquire takes the conversation lock without consulting the admission
// policy. Recovery uses it to resume an invocation that was admitted before
// a restart.
func (g *Gate) Acquire(conversationID int64) (func(), bool) {
	e := g.entry(conversationID)
	if !e.run.TryLock() {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(e.run.Unlock) }, true
}

func (g *Gate) check(e *entry, p Policy) Rejection {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.Cooldown > 0 && !e.lastActionAt.IsZero() && g.opts.Now().Sub(e.lastActionAt) < p.Cooldown {
		return RejectCooldown
	}
	if e.messagesSinceAction < p.MinMessages {
		return RejectMinMessages
	}
	return Admitted
}

func (g *Gate) sample(p float64) bool {
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	default:
		return g.opts.Rand() < p
	}
}

// MarkAction resets the counters after an executed action.
func (g *Gate) MarkAction(conversationID int64) {
	e := g.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.messagesSinceAction = 0
	e.lastActionAt = g.opts.Now()
}

// Snapshot is a point-in-time copy of a conversation's counters.
type Snapshot struct {
	MessagesSinceAction int
	LastActionAt        time.Time
}

// Snapshot returns the counters for conversationID.
func (g *Gate) Snapshot(conversationID int64) Snapshot {
	e := g.entry(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{MessagesSinceAction: e.messagesSinceAction, LastActionAt: e.lastActionAt}
}

// Len returns the number of tracked conversations.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
