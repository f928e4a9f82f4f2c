package runner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/chatagent/agent"
	"github.com/hupe1980/chatagent/checkpoint"
	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type trace struct {
	mu    sync.Mutex
	calls []core.Stage
}

func (t *trace) add(s core.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, s)
}

func (t *trace) get() []core.Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.Stage(nil), t.calls...)
}

func fakeStages(tr *trace) []agent.Stage {
	return []agent.Stage{
		// Deliberately out of order: the runner sorts by stage.
		agent.StageFunc{Stage: core.StageRecorded, Fn: func(_ context.Context, _ *core.State) core.Update {
			tr.add(core.StageRecorded)
			return core.Update{Stage: core.StageRecorded}
		}},
		agent.StageFunc{Stage: core.StageObserved, Fn: func(_ context.Context, _ *core.State) core.Update {
			tr.add(core.StageObserved)
			return core.Update{Stage: core.StageObserved, Context: &core.ContextBundle{Summary: "s"}}
		}},
		agent.StageFunc{Stage: core.StageDecided, Fn: func(_ context.Context, _ *core.State) core.Update {
			tr.add(core.StageDecided)
			d := core.Decision{Action: core.ActionSendMessage, Text: "lol"}
			return core.Update{Stage: core.StageDecided, Decision: &d}
		}},
		agent.StageFunc{Stage: core.StageActed, Fn: func(_ context.Context, st *core.State) core.Update {
			tr.add(core.StageActed)
			res := core.ActionResult{Executed: st.Decision != nil, Method: core.MethodSendMessage}
			return core.Update{Stage: core.StageActed, Result: &res}
		}},
	}
}

func TestInvokeRunsAllStagesAndCheckpoints(t *testing.T) {
	tr := &trace{}
	cp := checkpoint.NewInMemoryStore()
	r := New(fakeStages(tr), func(o *Options) { o.Checkpointer = cp })

	ev := testutil.NewEventBuilder().Message(5).Build()
	st := r.Invoke(context.Background(), ev, core.ModeActive)

	assert.Equal(t, []core.Stage{core.StageObserved, core.StageDecided, core.StageActed, core.StageRecorded}, tr.get())
	assert.Equal(t, core.StageRecorded, st.Stage)
	assert.Equal(t, "s", st.Context.Summary)
	assert.True(t, st.Result.Executed)

	writes, err := cp.Writes(context.Background(), st.InvocationID)
	require.NoError(t, err)
	stages := make([]core.Stage, 0, len(writes))
	for _, w := range writes {
		stages = append(stages, w.Stage)
	}
	assert.Equal(t, []core.Stage{core.StageCreated, core.StageObserved, core.StageDecided, core.StageActed, core.StageRecorded}, stages)
	assert.Zero(t, r.Active())
}

func TestInvokeResumesUnfinishedCheckpoint(t *testing.T) {
	cp := checkpoint.NewInMemoryStore()
	ev := testutil.NewEventBuilder().Message(5).Build()

	prior := testutil.NewStateBuilder(ev).
		Context(core.ContextBundle{Summary: "old"}).
		Decision(core.Decision{Action: core.ActionSendMessage, Text: "lol"}).
		Build()
	require.NoError(t, cp.Put(context.Background(), prior))

	tr := &trace{}
	r := New(fakeStages(tr), func(o *Options) { o.Checkpointer = cp })

	st := r.Invoke(context.Background(), ev, core.ModeActive)

	assert.Equal(t, []core.Stage{core.StageActed, core.StageRecorded}, tr.get())
	assert.Equal(t, prior.InvocationID, st.InvocationID)
	assert.Equal(t, "old", st.Context.Summary)
	assert.Equal(t, core.StageRecorded, st.Stage)
}

func TestInvokeIgnoresCheckpointOfOtherMessage(t *testing.T) {
	cp := checkpoint.NewInMemoryStore()
	older := testutil.NewStateBuilder(testutil.NewEventBuilder().Message(4).Build()).
		Context(core.ContextBundle{}).Build()
	require.NoError(t, cp.Put(context.Background(), older))

	tr := &trace{}
	r := New(fakeStages(tr), func(o *Options) { o.Checkpointer = cp })

	st := r.Invoke(context.Background(), testutil.NewEventBuilder().Message(5).Build(), core.ModeActive)
	assert.Len(t, tr.get(), 4)
	assert.NotEqual(t, older.InvocationID, st.InvocationID)
}

func TestResumeSkipsCommittedStages(t *testing.T) {
	tr := &trace{}
	r := New(fakeStages(tr))

	ev := testutil.NewEventBuilder().Build()
	prior := testutil.NewStateBuilder(ev).Context(core.ContextBundle{}).Build()

	st := r.Resume(context.Background(), prior)
	assert.Equal(t, []core.Stage{core.StageDecided, core.StageActed, core.StageRecorded}, tr.get())
	assert.Equal(t, core.StageRecorded, st.Stage)
	assert.Equal(t, core.StageObserved, prior.Stage, "input state must not be mutated")
}

func TestPanickingStageStillTerminates(t *testing.T) {
	tr := &trace{}
	stages := fakeStages(tr)
	stages[2] = agent.StageFunc{Stage: core.StageDecided, Fn: func(context.Context, *core.State) core.Update {
		panic("boom")
	}}
	r := New(stages)

	st := r.Invoke(context.Background(), testutil.NewEventBuilder().Build(), core.ModeActive)

	assert.Equal(t, core.StageRecorded, st.Stage)
	assert.Contains(t, st.Error, "stage decided panicked: boom")
	require.NotNil(t, st.Decision)
	assert.Equal(t, core.ReasonDecideError, st.Decision.Reason)
}

func TestPanickingActStageYieldsNoOpResult(t *testing.T) {
	tr := &trace{}
	stages := fakeStages(tr)
	stages[3] = agent.StageFunc{Stage: core.StageActed, Fn: func(context.Context, *core.State) core.Update {
		panic(errors.New("nil pointer"))
	}}

	st := New(stages).Invoke(context.Background(), testutil.NewEventBuilder().Build(), core.ModeActive)

	require.NotNil(t, st.Result)
	assert.False(t, st.Result.Executed)
	assert.Equal(t, core.MethodNone, st.Result.Method)
	assert.Equal(t, core.StageRecorded, st.Stage)
}

type failingCheckpointer struct{ NopCheckpointer }

func (failingCheckpointer) Put(context.Context, *core.State) error { return errors.New("disk full") }

func TestCheckpointFailureDegradesToNonDurable(t *testing.T) {
	tr := &trace{}
	r := New(fakeStages(tr), func(o *Options) { o.Checkpointer = failingCheckpointer{} })

	st := r.Invoke(context.Background(), testutil.NewEventBuilder().Build(), core.ModeActive)
	assert.Equal(t, core.StageRecorded, st.Stage)
	assert.Len(t, tr.get(), 4)
}

func TestStageHooks(t *testing.T) {
	var before, after []core.Stage
	r := New(fakeStages(&trace{}), func(o *Options) {
		o.BeforeStage = func(_ context.Context, _ *core.State, s core.Stage) { before = append(before, s) }
		o.AfterStage = func(_ context.Context, st *core.State, s core.Stage, _ core.Update) {
			assert.Equal(t, s, st.Stage)
			after = append(after, s)
		}
	})

	r.Invoke(context.Background(), testutil.NewEventBuilder().Build(), core.ModeActive)

	want := []core.Stage{core.StageObserved, core.StageDecided, core.StageActed, core.StageRecorded}
	assert.Equal(t, want, before)
	assert.Equal(t, want, after)
}

func TestCancelAll(t *testing.T) {
	started := make(chan struct{})
	stages := []agent.Stage{
		agent.StageFunc{Stage: core.StageObserved, Fn: func(ctx context.Context, _ *core.State) core.Update {
			close(started)
			<-ctx.Done()
			return core.Update{Error: ctx.Err().Error()}
		}},
		agent.StageFunc{Stage: core.StageRecorded, Fn: func(context.Context, *core.State) core.Update {
			return core.Update{}
		}},
	}
	r := New(stages)

	done := make(chan *core.State)
	go func() { done <- r.Invoke(context.Background(), testutil.NewEventBuilder().Build(), core.ModeActive) }()

	<-started
	assert.Equal(t, 1, r.Active())
	r.CancelAll()

	st := <-done
	assert.Equal(t, core.StageRecorded, st.Stage)
	assert.Contains(t, st.Error, context.Canceled.Error())
}
