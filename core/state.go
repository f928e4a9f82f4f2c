package core

import (
	"time"
)

// Stage identifies how far an invocation has progressed. Stages only move
// forward: Created -> Observed -> Decided -> Acted -> Recorded.
type Stage int

const (
	StageCreated Stage = iota
	StageObserved
	StageDecided
	StageActed
	StageRecorded
)

var stageNames = [...]string{"created", "observed", "decided", "acted", "recorded"}

// String returns the lowercase stage name.
func (s Stage) String() string {
	if s < StageCreated || s > StageRecorded {
		return "unknown"
	}
	return stageNames[s]
}

// Next returns the following stage. Recorded is terminal and returns itself.
func (s Stage) Next() Stage {
	if s >= StageRecorded {
		return StageRecorded
	}
	return s + 1
}

// Terminal reports whether no stage follows s.
func (s Stage) Terminal() bool { return s >= StageRecorded }

// State is the accumulated state of one pipeline invocation. Stages receive
// the state read-only and return an Update which is merged via Apply.
type State struct {
	InvocationID string         `json:"invocation_id"`
	Event        Event          `json:"event"`
	Mode         Mode           `json:"mode"`
	Stage        Stage          `json:"stage"`
	Context      *ContextBundle `json:"context,omitempty"`
	Decision     *Decision      `json:"decision,omitempty"`
	Result       *ActionResult  `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Created      time.Time      `json:"created"`
	Updated      time.Time      `json:"updated"`
}

// NewState creates the initial Created state for ev.
func NewState(ev Event, mode Mode) *State {
	now := time.Now().UTC()
	return &State{
		InvocationID: NewID(),
		Event:        ev,
		Mode:         mode,
		Stage:        StageCreated,
		Created:      now,
		Updated:      now,
	}
}

// Update is the partial result of a stage. Nil fields leave state untouched.
type Update struct {
	Stage    Stage
	Context  *ContextBundle
	Decision *Decision
	Result   *ActionResult
	Error    string
}

// Apply merges u into s. A stage that would move backwards is ignored so a
// replayed update can never regress a resumed invocation. Errors accumulate.
func (s *State) Apply(u Update) {
	if u.Stage > s.Stage {
		s.Stage = u.Stage
	}
	if u.Context != nil {
		c := *u.Context
		s.Context = &c
	}
	if u.Decision != nil {
		d := *u.Decision
		s.Decision = &d
	}
	if u.Result != nil {
		r := *u.Result
		s.Result = &r
	}
	if u.Error != "" {
		if s.Error == "" {
			s.Error = u.Error
		} else {
			s.Error = s.Error + "; " + u.Error
		}
	}
	s.Updated = time.Now().UTC()
}

// Clone returns a deep copy safe for independent mutation.
func (s *State) Clone() *State {
	c := *s
	if s.Context != nil {
		ctx := *s.Context
		ctx.RecentTurns = append([]Turn(nil), s.Context.RecentTurns...)
		c.Context = &ctx
	}
	if s.Decision != nil {
		d := *s.Decision
		c.Decision = &d
	}
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	return &c
}

// ConversationKey returns the checkpoint key for the state.
func (s *State) ConversationKey() int64 { return s.Event.ConversationID }
