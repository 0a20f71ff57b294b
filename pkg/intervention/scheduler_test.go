package intervention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observerSpy struct {
	mu        sync.Mutex
	decisions []Decision
	jobs      []InterventionJob
}

func (o *observerSpy) OnDecision(_ string, d Decision, _ DecisionLogEntry) {
	o.mu.Lock()
	o.decisions = append(o.decisions, d)
	o.mu.Unlock()
}

func (o *observerSpy) OnJobUpdate(job InterventionJob) {
	o.mu.Lock()
	o.jobs = append(o.jobs, job)
	o.mu.Unlock()
}

func (o *observerSpy) jobUpdates() []InterventionJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]InterventionJob(nil), o.jobs...)
}

type harness struct {
	sched    *Scheduler
	video    *fakeBackend
	reprompt *fakeBackend
	review   *fakeBackend
	clock    *fixedClock
	observer *observerSpy
	sink     *recordingSink
}

func newHarness() *harness {
	h := &harness{
		video:    &fakeBackend{acc: Acceptance{ExternalID: "vid"}, status: ExternalStatus{Status: JobPending}},
		reprompt: &fakeBackend{acc: Acceptance{Done: true, ResultRef: "Think of it like..."}},
		review:   &fakeBackend{acc: Acceptance{ExternalID: "set"}, status: ExternalStatus{Status: JobPending}},
		clock:    &fixedClock{now: at(0)},
		observer: &observerSpy{},
		sink:     &recordingSink{},
	}
	d := NewDispatcher(DefaultConfig(),
		WithBackend(KindVideo, h.video),
		WithBackend(KindReprompt, h.reprompt),
		WithBackend(KindFlashcards, h.review),
		WithBackend(KindPractice, h.review),
		WithClock(h.clock.Now),
	)
	h.sched = NewScheduler(DefaultConfig(), d,
		WithObserver(h.observer),
		WithDecisionSink(h.sink),
		WithNow(h.clock.Now),
	)
	return h
}

func (h *harness) signal(t *testing.T, user string, kind SignalKind, level, sec float64) {
	t.Helper()
	_, err := h.sched.PostSignal(user, Signal{Kind: kind, Level: level, ObservedAt: at(sec)})
	require.NoError(t, err)
}

func (h *harness) evaluate(user string, sec float64) map[Class]Decision {
	h.clock.Set(at(sec))
	out := make(map[Class]Decision)
	for _, d := range h.sched.Evaluate(context.Background(), user, at(sec)) {
		out[d.Class] = d
	}
	h.sched.Dispatcher().Wait()
	return out
}

func TestSchedulerDistractionWithLiveContext(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "The derivative measures change.", at(-10)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)

	got := h.evaluate("u1", 1)

	video := got[ClassVideo]
	require.True(t, video.Fire)
	assert.Equal(t, KindVideo, video.Kind)
	assert.Equal(t, "sustained distraction, live context", video.Reason)
	require.NotNil(t, video.Job)
	assert.Equal(t, JobPending, video.Job.Status)
	assert.False(t, got[ClassReprompt].Fire)
	assert.False(t, got[ClassReview].Fire)

	require.Len(t, h.video.requests, 1)
	assert.Equal(t, "derivatives", h.video.requests[0].Topic)

	view := h.sched.CurrentState("u1", at(1))
	assert.True(t, view.InFlight)
	assert.True(t, view.CooldownActive)
	assert.InDelta(t, 0.63, view.SmoothedLevel, 1e-9)
	require.NotNil(t, view.LastDecision)
}

func TestSchedulerStaleContext(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(-130)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)

	got := h.evaluate("u1", 1)

	assert.False(t, got[ClassVideo].Fire)
	assert.Equal(t, "stale context", got[ClassVideo].Reason)
	assert.Empty(t, h.video.requests)
}

func TestSchedulerCooldownThenFire(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(-5)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)
	first := h.evaluate("u1", 0)[ClassVideo]
	require.True(t, first.Fire)

	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(10)))
	h.signal(t, "u1", SignalDistraction, 0.9, 15)
	second := h.evaluate("u1", 15)[ClassVideo]
	assert.False(t, second.Fire)
	assert.Equal(t, "cooldown active, 15s < 30s", second.Reason)

	h.video.set(func(f *fakeBackend) { f.status = ExternalStatus{Status: JobReady, ResultRef: "https://cdn/v.mp4"} })
	job, err := h.sched.Poll(ctx, "u1", first.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobReady, job.Status)

	h.signal(t, "u1", SignalDistraction, 0.9, 31)
	third := h.evaluate("u1", 31)[ClassVideo]
	assert.True(t, third.Fire)
}

func TestSchedulerConfusionAndDistractionBothFire(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(-1)))
	h.signal(t, "u1", SignalConfusion, 0.8, 0)
	h.signal(t, "u1", SignalDistraction, 0.8, 0)

	decisions := h.sched.Evaluate(context.Background(), "u1", at(0))
	h.sched.Dispatcher().Wait()

	require.Len(t, decisions, 3)
	assert.Equal(t, ClassReprompt, decisions[0].Class, "reprompt is evaluated first")
	assert.True(t, decisions[0].Fire)
	assert.Equal(t, KindReprompt, decisions[0].Kind)
	assert.Equal(t, ClassVideo, decisions[1].Class)
	assert.True(t, decisions[1].Fire)

	// the reprompt backend answers synchronously, so its class is free again
	view := h.sched.CurrentState("u1", at(0))
	for _, cv := range view.Classes {
		switch cv.Class {
		case ClassReprompt:
			assert.False(t, cv.InFlight)
			assert.True(t, cv.CooldownActive)
		case ClassVideo:
			assert.True(t, cv.InFlight)
		}
	}

	entries := h.sched.RecentDecisions("u1", 3)
	require.Len(t, entries, 3)
	assert.Equal(t, ClassReview, entries[0].Class)
	assert.Contains(t, entries[2].AlternativesConsidered, "video: fired")
}

func TestSchedulerRejectionClearsInFlightImmediately(t *testing.T) {
	h := newHarness()
	h.video.set(func(f *fakeBackend) { f.startErr = errors.New("service unavailable") })
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(0)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)

	got := h.evaluate("u1", 1)
	require.True(t, got[ClassVideo].Fire)

	view := h.sched.CurrentState("u1", at(1))
	assert.False(t, view.InFlight, "rejection must not hold the class")
	assert.True(t, view.CooldownActive, "the attempt still counts for spacing")

	updates := h.observer.jobUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, JobFailed, updates[0].Status)

	recent := h.sched.RecentDecisions("u1", 1)
	require.Len(t, recent, 1)
	assert.Equal(t, ActionJobFailed, recent[0].Action)

	// after the window a fresh signal retries
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(30)))
	h.video.set(func(f *fakeBackend) { f.startErr = nil })
	h.signal(t, "u1", SignalDistraction, 0.9, 31)
	assert.True(t, h.evaluate("u1", 31)[ClassVideo].Fire)
}

func TestSchedulerOrphanRecovery(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(0)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)
	first := h.evaluate("u1", 0)[ClassVideo]
	require.True(t, first.Fire)

	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(100)))
	h.signal(t, "u1", SignalDistraction, 0.9, 100)
	assert.Equal(t, "intervention already in flight", h.evaluate("u1", 100)[ClassVideo].Reason)

	h.signal(t, "u1", SignalDistraction, 0.9, 121)
	second := h.evaluate("u1", 121)[ClassVideo]
	require.True(t, second.Fire)
	assert.NotEqual(t, first.Job.ID, second.Job.ID)

	// the orphan settling late must not clear the new job's flag
	h.video.set(func(f *fakeBackend) { f.status = ExternalStatus{Status: JobReady} })
	_, err := h.sched.Poll(context.Background(), "u1", first.Job.ID)
	require.NoError(t, err)
	assert.True(t, h.sched.CurrentState("u1", at(122)).InFlight)
}

func TestSchedulerPollKeepsJobAlive(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(0)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)
	first := h.evaluate("u1", 0)[ClassVideo]
	require.True(t, first.Fire)

	h.clock.Set(at(100))
	_, err := h.sched.Poll(context.Background(), "u1", first.Job.ID)
	require.NoError(t, err)

	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(150)))
	h.signal(t, "u1", SignalDistraction, 0.9, 150)
	got := h.evaluate("u1", 150)[ClassVideo]
	assert.Equal(t, "intervention already in flight", got.Reason, "polled 50s ago, not orphaned")
}

func TestSchedulerPollOwnership(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(0)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)
	fired := h.evaluate("u1", 0)[ClassVideo]
	require.True(t, fired.Fire)

	_, err := h.sched.Poll(context.Background(), "u2", fired.Job.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.sched.Poll(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSchedulerConcurrentEvaluateFiresOnce(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(0)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fires int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, d := range h.sched.Evaluate(context.Background(), "u1", at(1)) {
				if d.Fire {
					mu.Lock()
					fires++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	h.sched.Dispatcher().Wait()

	assert.Equal(t, 1, fires)
}

func TestSchedulerReviewOnFocusTimeout(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(0)))
	h.signal(t, "u1", SignalFocusTimeout, 0.8, 1)

	got := h.evaluate("u1", 2)
	review := got[ClassReview]
	require.True(t, review.Fire)
	assert.Equal(t, KindPractice, review.Kind)
	assert.False(t, got[ClassVideo].Fire)
	require.Len(t, h.review.requests, 1)
	assert.InDelta(t, 0.8, h.review.requests[0].Level, 1e-9)
}

func TestSchedulerTickDecaysIdleUsers(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.signal(t, "u1", SignalDistraction, 1, 0)
	h.signal(t, "u2", SignalDistraction, 1, 0)

	require.NoError(t, h.sched.Tick(ctx, at(1)))
	assert.InDelta(t, 0.7, h.sched.CurrentState("u1", at(1)).SmoothedLevel, 1e-9, "observed since last tick")

	h.signal(t, "u2", SignalDistraction, 1, 1.5)
	require.NoError(t, h.sched.Tick(ctx, at(2)))
	h.sched.Dispatcher().Wait()

	assert.InDelta(t, 0.7*0.85, h.sched.CurrentState("u1", at(2)).SmoothedLevel, 1e-9)
	assert.InDelta(t, 0.91, h.sched.CurrentState("u2", at(2)).SmoothedLevel, 1e-9)

	// no context was ever set, so nothing fired
	assert.Empty(t, h.video.requests)
	assert.NotEmpty(t, h.sink.all())
}

func TestSchedulerRejectsInvalidInput(t *testing.T) {
	h := newHarness()

	_, err := h.sched.PostSignal("u1", Signal{Kind: "yawn", Level: 0.5, ObservedAt: at(0)})
	assert.ErrorIs(t, err, ErrInvalidSignal)

	_, err = h.sched.PostSignal("", Signal{Kind: SignalFatigue, Level: 0.5, ObservedAt: at(0)})
	assert.ErrorIs(t, err, ErrInvalidSignal)

	assert.Error(t, h.sched.SetRecentContext("", "t", "x", at(0)))
}

func TestSchedulerUnknownUserReadsFresh(t *testing.T) {
	h := newHarness()

	view := h.sched.CurrentState("ghost", at(0))
	assert.Zero(t, view.SmoothedLevel)
	assert.False(t, view.CooldownActive)
	assert.Nil(t, view.LastDecision)
	assert.Len(t, view.Classes, 3)
	assert.Empty(t, h.sched.RecentDecisions("ghost", 5))
}

func TestSchedulerSetRecentContextDefaultsToNow(t *testing.T) {
	h := newHarness()
	h.clock.Set(at(50))
	require.NoError(t, h.sched.SetRecentContext("u1", "t", "x", time.Time{}))

	assert.True(t, h.sched.CurrentState("u1", at(60)).HasContext)
	assert.False(t, h.sched.CurrentState("u1", at(170)).HasContext)
}

func TestSchedulerOldConfusionDoesNotFireLater(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.signal(t, "u1", SignalConfusion, 0.9, 0)
	for sec := 1.0; sec < 600; sec++ {
		require.NoError(t, h.sched.Tick(ctx, at(sec)))
	}

	require.NoError(t, h.sched.SetRecentContext("u1", "integrals", "area under the curve", at(600)))
	h.signal(t, "u1", SignalDistraction, 0.9, 600)
	got := h.evaluate("u1", 600)

	assert.False(t, got[ClassReprompt].Fire)
	assert.Equal(t, "no pending evidence", got[ClassReprompt].Reason)
	assert.True(t, got[ClassVideo].Fire)
	assert.Empty(t, h.reprompt.requests)
}

func TestSchedulerStuckJobReleasesClass(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(0)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)
	first := h.evaluate("u1", 0)[ClassVideo]
	require.True(t, first.Fire)

	for sec := 5.0; sec <= 1800; sec += 5 {
		h.clock.Set(at(sec))
		_, err := h.sched.Dispatcher().PollPending(ctx)
		require.NoError(t, err)
	}

	job, err := h.sched.Poll(ctx, "u1", first.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, "generation timed out", job.Error)

	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(1800)))
	h.signal(t, "u1", SignalDistraction, 0.9, 1800)
	second := h.evaluate("u1", 1801)[ClassVideo]
	assert.True(t, second.Fire, second.Reason)
}

func TestSchedulerIdleTicksKeepRecentDecisions(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(0)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)
	require.True(t, h.evaluate("u1", 0)[ClassVideo].Fire)
	logged := len(h.sink.all())

	for sec := 1.0; sec <= 20; sec++ {
		require.NoError(t, h.sched.Tick(ctx, at(sec)))
	}

	assert.Len(t, h.sink.all(), logged, "idle ticks log nothing")
	fires := 0
	for _, e := range h.sched.RecentDecisions("u1", 50) {
		if e.Action == ActionFire {
			fires++
		}
	}
	assert.Equal(t, 1, fires)
}

func TestSchedulerTicksLogOutcomeChangesOnly(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.sched.SetRecentContext("u1", "derivatives", "text", at(0)))
	h.signal(t, "u1", SignalDistraction, 0.9, 0)
	require.True(t, h.evaluate("u1", 0)[ClassVideo].Fire)

	// distraction keeps arriving while the class cools down
	for sec := 1.0; sec <= 20; sec++ {
		h.signal(t, "u1", SignalDistraction, 0.9, sec)
		require.NoError(t, h.sched.Tick(ctx, at(sec)))
	}

	var cooling int
	for _, e := range h.sched.RecentDecisions("u1", 50) {
		if e.Class == ClassVideo && e.Action == ActionNoAction {
			cooling++
		}
	}
	assert.Equal(t, 1, cooling)

	// on-demand evaluation always logs
	before := len(h.sink.all())
	h.evaluate("u1", 21)
	assert.Len(t, h.sink.all(), before+3)
}
