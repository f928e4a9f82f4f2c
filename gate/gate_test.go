package gate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/chatagent/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

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

func newGate(p Policy, optFns ...func(o *Options)) *Gate {
	return New(append([]func(o *Options){func(o *Options) {
		o.Policy = func() Policy { return p }
	}}, optFns...)...)
}

func TestIsEligible(t *testing.T) {
	g := New(func(o *Options) { o.SelfID = 99 })

	tests := []struct {
		name string
		ev   core.Event
		want bool
	}{
		{"ok", core.NewEvent(2000000001, 7, 5, "lol nice"), true},
		{"too short", core.NewEvent(2000000001, 7, 5, " ok "), false},
		{"empty", core.NewEvent(2000000001, 7, 5, "   "), false},
		{"command", core.NewEvent(2000000001, 7, 5, "/top players"), false},
		{"self directed", core.NewEvent(7, 7, 5, "hello there"), false},
		{"bot author", core.NewEvent(2000000001, 99, 5, "hello there"), false},
		{"bad actor", core.NewEvent(2000000001, 0, 5, "hello there"), false},
		{"bad conversation", core.NewEvent(-1, 7, 5, "hello there"), false},
		{"multibyte counts runes", core.NewEvent(2000000001, 7, 5, "ура"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.IsEligible(tt.ev))
		})
	}
}

func TestObserve_CountsEveryEligibleEvent(t *testing.T) {
	g := newGate(Policy{Probability: 0})

	for i := 0; i < 3; i++ {
		g.Observe(1)
		_, ok := g.TryAdmit(1)
		assert.False(t, ok)
	}

	assert.Equal(t, 3, g.Snapshot(1).MessagesSinceAction)
	assert.Zero(t, g.Snapshot(2).MessagesSinceAction)
}

func TestAdmit_MinMessages(t *testing.T) {
	g := newGate(Policy{MinMessages: 2, Probability: 1})

	g.Observe(1)
	_, r := g.Admit(1)
	assert.Equal(t, RejectMinMessages, r)

	g.Observe(1)
	release, r := g.Admit(1)
	require.Equal(t, Admitted, r)
	release()
}

func TestAdmit_Cooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := newGate(Policy{Cooldown: 2 * time.Minute, Probability: 1}, func(o *Options) { o.Now = clock.Now })

	g.MarkAction(1)
	g.Observe(1)
	_, r := g.Admit(1)
	assert.Equal(t, RejectCooldown, r)

	clock.Advance(2 * time.Minute)
	release, r := g.Admit(1)
	require.Equal(t, Admitted, r)
	release()
}

func TestAdmit_Sampling(t *testing.T) {
	draw := 0.5
	g := newGate(Policy{Probability: 0.35}, func(o *Options) { o.Rand = func() float64 { return draw } })

	_, r := g.Admit(1)
	assert.Equal(t, RejectSampling, r)

	draw = 0.1
	release, r := g.Admit(1)
	require.Equal(t, Admitted, r)
	release()

	never := newGate(Policy{Probability: 0}, func(o *Options) { o.Rand = func() float64 { return 0 } })
	_, r = never.Admit(1)
	assert.Equal(t, RejectSampling, r)
}

func TestAdmit_RejectionReleasesLock(t *testing.T) {
	draw := 0.9
	g := newGate(Policy{Probability: 0.5}, func(o *Options) { o.Rand = func() float64 { return draw } })

	_, ok := g.TryAdmit(1)
	require.False(t, ok)

	draw = 0.1
	release, ok := g.TryAdmit(1)
	require.True(t, ok, "a sampled-out attempt must not leave the conversation locked")
	release()
}

func TestTryAdmit_ContentionIsNonBlocking(t *testing.T) {
	g := newGate(Policy{Probability: 1})

	release, ok := g.TryAdmit(1)
	require.True(t, ok)

	_, r := g.Admit(1)
	assert.Equal(t, RejectContention, r)

	other, ok := g.TryAdmit(2)
	require.True(t, ok, "distinct conversations are independent")
	other()

	release()
	release() // idempotent

	again, ok := g.TryAdmit(1)
	require.True(t, ok)
	again()
}

func TestTryAdmit_ConcurrentSingleWinner(t *testing.T) {
	g := newGate(Policy{Probability: 1})

	var (
		admitted atomic.Int32
		attempts atomic.Int32
		wg       sync.WaitGroup
		hold     = make(chan struct{})
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, ok := g.TryAdmit(42)
			attempts.Add(1)
			if ok {
				admitted.Add(1)
				<-hold
				release()
			}
		}()
	}

	// The winner keeps the conversation until every attempt has been made.
	require.Eventually(t, func() bool { return attempts.Load() == 16 }, time.Second, time.Millisecond)
	close(hold)
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}

func TestMarkAction_ResetsCounter(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := New(func(o *Options) { o.Now = clock.Now })

	g.Observe(2000000001)
	g.Observe(2000000001)
	g.MarkAction(2000000001)

	snap := g.Snapshot(2000000001)
	assert.Zero(t, snap.MessagesSinceAction)
	assert.Equal(t, clock.Now(), snap.LastActionAt)
	assert.Equal(t, 1, g.Len())
}

func TestAcquire_IgnoresPolicyButNotContention(t *testing.T) {
	g := newGate(Policy{MinMessages: 100, Probability: 0})

	release, ok := g.Acquire(1)
	require.True(t, ok)

	_, ok = g.Acquire(1)
	assert.False(t, ok)
	_, r := g.Admit(1)
	assert.Equal(t, RejectMinMessages, r)

	release()
	release()

	release, ok = g.Acquire(1)
	require.True(t, ok)
	release()
}
