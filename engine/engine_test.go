package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/chatagent/checkpoint"
	"github.com/hupe1980/chatagent/config"
	"github.com/hupe1980/chatagent/core"
	"github.com/hupe1980/chatagent/internal/testutil"
	"github.com/hupe1980/chatagent/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	sendDecision  = `{"action":"send_message","text":"ахах, жиза","reply_to_id":5,"target_id":0,"reaction_id":0,"reason":"fun"}`
	reactDecision = `{"action":"react","text":"","reply_to_id":0,"target_id":9,"reaction_id":3,"reason":"like"}`
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine    *Engine
	model     *model.MockModel
	messenger *testutil.RecordingMessenger
	history   *testutil.HistoryRecorder
	store     *checkpoint.InMemoryStore
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Agent.Enabled = true
	cfg.Agent.Mode = "active"
	cfg.Agent.TriggerProbability = 1
	cfg.Agent.CooldownSeconds = 0
	cfg.Agent.MinMessagesSinceAction = 1
	return cfg
}

func newFixture(t *testing.T, cfgFn func(c *config.Config), optFns ...func(o *Options)) *fixture {
	t.Helper()

	cfg := testConfig()
	if cfgFn != nil {
		cfgFn(cfg)
	}

	f := &fixture{
		model:     model.NewMockModel("mock"),
		messenger: testutil.NewRecordingMessenger(),
		history:   &testutil.HistoryRecorder{},
		store:     checkpoint.NewInMemoryStore(),
	}

	f.engine = New(append([]func(o *Options){func(o *Options) {
		o.Config = cfg
		o.Model = f.model
		o.Messenger = f.messenger
		o.History = f.history
		o.Context = &testutil.ContextSource{SummaryText: "chat about memes"}
		o.Checkpointer = f.store
	}}, optFns...)...)

	return f
}

func scenarioEvent() core.Event {
	return testutil.NewEventBuilder().Conversation(2000000001).Actor(7).Message(5).Text("lol nice").Build()
}

func TestHandleEvent_ActiveSendsMessage(t *testing.T) {
	f := newFixture(t, nil)
	f.model.AddResponse(sendDecision)

	out := f.engine.HandleEvent(context.Background(), scenarioEvent())

	require.True(t, out.Admitted)
	assert.True(t, out.Executed)
	assert.Equal(t, core.MethodSendMessage, out.Result.Method)
	assert.Equal(t, int64(101), out.Result.ExternalID)
	assert.Equal(t, core.StageRecorded, out.State.Stage)

	calls := f.messenger.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "send_message", calls[0].Method)
	assert.Equal(t, int64(2000000001), calls[0].ConversationID)
	assert.Equal(t, "ахах, жиза", calls[0].Text)
	assert.Equal(t, int64(5), calls[0].ReplyToID)

	assert.Equal(t, 0, f.engine.Gate().Snapshot(2000000001).MessagesSinceAction)

	entries := f.history.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "ахах, жиза", entries[0].Text)
}

func TestHandleEvent_ShadowNeverCallsPlatform(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agent.Mode = "shadow" })
	f.model.AddResponse(sendDecision)

	out := f.engine.HandleEvent(context.Background(), scenarioEvent())

	require.True(t, out.Admitted)
	assert.False(t, out.Executed)
	assert.Equal(t, core.MethodShadow, out.Result.Method)
	assert.Equal(t, core.ActionSendMessage, out.State.Decision.Action)
	assert.Empty(t, f.messenger.Calls())
	assert.Empty(t, f.history.Entries())
	assert.Equal(t, 1, f.engine.Gate().Snapshot(2000000001).MessagesSinceAction)
}

func TestHandleEvent_React(t *testing.T) {
	f := newFixture(t, nil)
	f.model.AddResponse(reactDecision)

	out := f.engine.HandleEvent(context.Background(), scenarioEvent())

	require.True(t, out.Executed)
	assert.Equal(t, core.MethodSendReaction, out.Result.Method)

	calls := f.messenger.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "send_reaction", calls[0].Method)
	assert.Equal(t, int64(9), calls[0].TargetID)
	assert.Equal(t, int64(3), calls[0].ReactionID)
	assert.Empty(t, f.history.Entries(), "reactions are not recorded as turns")
}

func TestHandleEvent_Disabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agent.Enabled = false })

	out := f.engine.HandleEvent(context.Background(), scenarioEvent())

	assert.False(t, out.Admitted)
	assert.Equal(t, ReasonDisabled, out.Reason)
	assert.Empty(t, f.model.Requests())
	assert.Equal(t, 0, f.engine.Gate().Snapshot(2000000001).MessagesSinceAction)
}

func TestHandleEvent_Ineligible(t *testing.T) {
	f := newFixture(t, nil)

	for _, ev := range []core.Event{
		testutil.NewEventBuilder().Text("/top").Build(),
		testutil.NewEventBuilder().Text("ok").Build(),
		testutil.NewEventBuilder().Conversation(7).Actor(7).Build(),
	} {
		out := f.engine.HandleEvent(context.Background(), ev)
		assert.Equal(t, ReasonIneligible, out.Reason)
	}
	assert.Empty(t, f.model.Requests())
}

func TestHandleEvent_DecideErrorIsNoAction(t *testing.T) {
	f := newFixture(t, nil)
	f.model.AddError(errors.New("boom")).AddError(errors.New("boom again"))

	out := f.engine.HandleEvent(context.Background(), scenarioEvent())

	require.True(t, out.Admitted)
	assert.False(t, out.Executed)
	assert.Equal(t, core.ReasonDecideError, out.Reason)
	assert.Len(t, f.model.Requests(), 2)
	assert.Empty(t, f.messenger.Calls())
	assert.Contains(t, out.State.Error, "boom again")
}

func TestHandleEvent_Cooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	f := newFixture(t, func(c *config.Config) { c.Agent.CooldownSeconds = 60 }, func(o *Options) {
		o.Now = clock.Now
	})
	f.model.SetFallback(sendDecision, nil)

	ev := scenarioEvent()
	out := f.engine.HandleEvent(context.Background(), ev)
	require.True(t, out.Executed)

	ev.MessageID = 6
	out = f.engine.HandleEvent(context.Background(), ev)
	assert.False(t, out.Admitted)
	assert.Equal(t, "cooldown", out.Reason)

	clock.Advance(61 * time.Second)
	ev.MessageID = 7
	out = f.engine.HandleEvent(context.Background(), ev)
	assert.True(t, out.Executed)
	assert.Len(t, f.messenger.Calls(), 2)
}

func TestHandleEvent_MinMessages(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agent.MinMessagesSinceAction = 3 })
	f.model.SetFallback(sendDecision, nil)

	var reasons []string
	for id := int64(1); id <= 3; id++ {
		ev := scenarioEvent()
		ev.MessageID = id
		reasons = append(reasons, f.engine.HandleEvent(context.Background(), ev).Reason)
	}

	assert.Equal(t, []string{"min_messages", "min_messages", "fun"}, reasons)
	assert.Len(t, f.messenger.Calls(), 1)
}

func TestHandleEvent_ConcurrentInvocationsYieldOneCall(t *testing.T) {
	f := newFixture(t, nil)

	started := make(chan struct{})
	proceed := make(chan struct{})
	f.model.AddFunc(func(ctx context.Context, _ model.Request) (string, error) {
		close(started)
		select {
		case <-proceed:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return sendDecision, nil
	})
	f.model.SetFallback(sendDecision, nil)

	var wg sync.WaitGroup
	var first Outcome
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = f.engine.HandleEvent(context.Background(), scenarioEvent())
	}()

	<-started
	ev := scenarioEvent()
	ev.MessageID = 6
	second := f.engine.HandleEvent(context.Background(), ev)

	close(proceed)
	wg.Wait()

	assert.False(t, second.Admitted)
	assert.Equal(t, "contention", second.Reason)
	assert.True(t, first.Executed)
	assert.Len(t, f.messenger.Calls(), 1)
}

func TestHandleEvent_StagePanicStillTerminates(t *testing.T) {
	f := newFixture(t, nil, func(o *Options) { o.Messenger = panicMessenger{} })
	f.model.AddResponse(sendDecision)

	out := f.engine.HandleEvent(context.Background(), scenarioEvent())

	require.True(t, out.Admitted)
	assert.False(t, out.Executed)
	assert.Equal(t, core.StageRecorded, out.State.Stage)
	assert.Contains(t, out.State.Error, "panicked")

	release, ok := f.engine.Gate().Acquire(2000000001)
	require.True(t, ok, "conversation lock must be released")
	release()
}

type panickySource struct {
	testutil.ContextSource
}

func (s *panickySource) Summary(context.Context, int64) (string, error) {
	panic("summary backend bug")
}

func TestHandleEvent_ContextSourcePanicIsContained(t *testing.T) {
	f := newFixture(t, nil, func(o *Options) { o.Context = &panickySource{} })
	f.model.AddResponse(sendDecision)

	var out Outcome
	require.NotPanics(t, func() {
		out = f.engine.HandleEvent(context.Background(), scenarioEvent())
	})

	require.True(t, out.Admitted)
	assert.True(t, out.Executed)
	assert.Equal(t, core.StageRecorded, out.State.Stage)
	require.NotNil(t, out.State.Context)
	assert.Empty(t, out.State.Context.Summary)
}

func TestHandleEvent_PromptUsesConfiguredReactionLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Agent.MaxReactionID = 4 })

	f.engine.HandleEvent(context.Background(), scenarioEvent())

	reqs := f.model.Requests()
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0].Instructions, "from 1 to 4")
}

type panicMessenger struct{}

func (panicMessenger) SendMessage(context.Context, int64, string, int64) (int64, error) {
	panic("platform exploded")
}

func (panicMessenger) SendReaction(context.Context, int64, int64, int64) (int64, error) {
	panic("platform exploded")
}

func TestUpdateConfig_AppliesToNextEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.model.SetFallback(sendDecision, nil)

	next := testConfig()
	next.Agent.Mode = "shadow"
	f.engine.UpdateConfig(next)

	out := f.engine.HandleEvent(context.Background(), scenarioEvent())
	assert.Equal(t, core.MethodShadow, out.Result.Method)

	next = testConfig()
	next.Agent.Enabled = false
	f.engine.UpdateConfig(next)

	ev := scenarioEvent()
	ev.MessageID = 6
	out = f.engine.HandleEvent(context.Background(), ev)
	assert.Equal(t, ReasonDisabled, out.Reason)
	assert.False(t, f.engine.Config().Agent.Enabled)
}

func TestCallbacks_Fire(t *testing.T) {
	f := newFixture(t, nil)
	f.model.AddResponse(sendDecision)

	var before, actions atomic.Int32
	f.engine.Callbacks().RegisterCallback(NewFunctionCallback(CallbackBeforeStage,
		func(context.Context, *CallbackContext) error {
			before.Add(1)
			return nil
		}))
	f.engine.Callbacks().RegisterCallback(NewFunctionCallback(CallbackOnAction,
		func(_ context.Context, cc *CallbackContext) error {
			actions.Add(1)
			assert.Equal(t, core.StageActed, cc.Stage)
			assert.True(t, cc.State.Result.Executed)
			return errors.New("ignored")
		}))

	out := f.engine.HandleEvent(context.Background(), scenarioEvent())

	require.True(t, out.Executed)
	assert.Equal(t, int32(4), before.Load())
	assert.Equal(t, int32(1), actions.Load())
}

func TestRecover_ResumesFreshAndDiscardsStale(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	fresh := testutil.NewStateBuilder(scenarioEvent()).
		Context(core.ContextBundle{}).
		Decision(core.Decision{Action: core.ActionSendMessage, Text: "resumed"}).
		Build()
	require.NoError(t, f.store.Put(ctx, fresh))

	staleEvent := testutil.NewEventBuilder().Conversation(2000000002).Message(9).Build()
	stale := testutil.NewStateBuilder(staleEvent).Context(core.ContextBundle{}).Build()
	stale.Updated = time.Now().Add(-time.Hour)
	require.NoError(t, f.store.Put(ctx, stale))

	require.NoError(t, f.engine.Start(ctx))
	defer func() { require.NoError(t, f.engine.Stop()) }()

	assert.Empty(t, f.model.Requests(), "committed stages are not re-run")

	calls := f.messenger.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "resumed", calls[0].Text)

	st, err := f.store.Get(ctx, 2000000001)
	require.NoError(t, err)
	assert.Equal(t, core.StageRecorded, st.Stage)

	st, err = f.store.Get(ctx, 2000000002)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStart_SQLiteCheckpointsSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "cp.sqlite3")
	f := newFixture(t, func(c *config.Config) { c.Agent.CheckpointStoragePath = path }, func(o *Options) {
		o.Checkpointer = nil
	})
	f.model.AddResponse(sendDecision)
	ctx := context.Background()

	require.NoError(t, f.engine.Start(ctx))
	require.NoError(t, f.engine.Start(ctx))

	out := f.engine.HandleEvent(ctx, scenarioEvent())
	require.True(t, out.Executed)
	require.NoError(t, f.engine.Stop())
	require.NoError(t, f.engine.Stop())

	out = f.engine.HandleEvent(ctx, scenarioEvent())
	assert.Equal(t, ReasonStopped, out.Reason)

	store := checkpoint.NewSQLite(path)
	saver, err := store.Start(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Stop()) }()

	st, err := saver.Get(ctx, 2000000001)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, core.StageRecorded, st.Stage)
}

func TestStart_StorageFailureRunsNonDurably(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	f := newFixture(t, func(c *config.Config) {
		c.Agent.CheckpointStoragePath = filepath.Join(blocker, "cp.sqlite3")
	}, func(o *Options) { o.Checkpointer = nil })
	f.model.AddResponse(sendDecision)

	require.NoError(t, f.engine.Start(context.Background()))
	defer func() { require.NoError(t, f.engine.Stop()) }()

	out := f.engine.HandleEvent(context.Background(), scenarioEvent())
	assert.True(t, out.Executed)
}
