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

type fakeBackend struct {
	mu        sync.Mutex
	startErr  error
	acc       Acceptance
	status    ExternalStatus
	statusErr error
	panics    bool
	requests  []GenerationRequest
	polls     int
}

func (f *fakeBackend) Start(_ context.Context, req GenerationRequest) (Acceptance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.panics {
		panic("backend exploded")
	}
	return f.acc, f.startErr
}

func (f *fakeBackend) Status(_ context.Context, _ string) (ExternalStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.status, f.statusErr
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type listenerSpy struct {
	mu      sync.Mutex
	settled []InterventionJob
	polled  []time.Time
}

func (l *listenerSpy) jobSettled(job InterventionJob) {
	l.mu.Lock()
	l.settled = append(l.settled, job)
	l.mu.Unlock()
}

func (l *listenerSpy) jobPolled(_ InterventionJob, at time.Time) {
	l.mu.Lock()
	l.polled = append(l.polled, at)
	l.mu.Unlock()
}

func videoDecision() Decision {
	return Decision{
		Fire:        true,
		Class:       ClassVideo,
		Kind:        KindVideo,
		Trigger:     SignalDistraction,
		Level:       0.9,
		ContextUsed: &Context{Topic: "derivatives", ReferenceText: "slope", CreatedAt: at(0)},
	}
}

func newTestDispatcher(b Backend) (*Dispatcher, *listenerSpy, *fixedClock) {
	clock := &fixedClock{now: at(0)}
	d := NewDispatcher(DefaultConfig(), WithBackend(KindVideo, b), WithClock(clock.Now))
	spy := &listenerSpy{}
	d.setListener(spy)
	return d, spy, clock
}

func TestDispatchAcceptedThenReady(t *testing.T) {
	backend := &fakeBackend{acc: Acceptance{ExternalID: "ext-1"}, status: ExternalStatus{Status: JobPending}}
	d, spy, _ := newTestDispatcher(backend)
	ctx := context.Background()

	job := d.Dispatch(ctx, "u1", videoDecision())
	assert.Equal(t, JobPending, job.Status)
	assert.Equal(t, "derivatives", job.Topic)
	d.Wait()

	require.Len(t, backend.requests, 1)
	assert.Equal(t, "slope", backend.requests[0].ReferenceText)
	assert.Equal(t, job.ID, backend.requests[0].JobID)

	polled, err := d.Poll(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobPending, polled.Status)
	assert.Equal(t, "ext-1", polled.ExternalID)
	assert.Len(t, spy.polled, 1)
	assert.Empty(t, spy.settled)

	backend.set(func(f *fakeBackend) { f.status = ExternalStatus{Status: JobReady, ResultRef: "https://cdn/video.mp4"} })
	polled, err = d.Poll(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobReady, polled.Status)
	assert.Equal(t, "https://cdn/video.mp4", polled.ResultRef)
	require.Len(t, spy.settled, 1)

	// terminal polls are no-ops
	again, err := d.Poll(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, polled, again)
	assert.Len(t, spy.settled, 1)
	assert.Equal(t, 2, backend.polls)
}

func TestDispatchRejectedSettlesFailed(t *testing.T) {
	backend := &fakeBackend{startErr: errors.New("400 bad request")}
	d, spy, _ := newTestDispatcher(backend)

	job := d.Dispatch(context.Background(), "u1", videoDecision())
	d.Wait()

	require.Len(t, spy.settled, 1)
	assert.Equal(t, JobFailed, spy.settled[0].Status)
	assert.Equal(t, "400 bad request", spy.settled[0].Error)

	stored, err := d.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, stored.Status)
}

func TestDispatchSynchronousBackend(t *testing.T) {
	backend := &fakeBackend{acc: Acceptance{Done: true, ResultRef: "simpler words"}}
	d, spy, _ := newTestDispatcher(backend)

	job := d.Dispatch(context.Background(), "u1", videoDecision())
	d.Wait()

	require.Len(t, spy.settled, 1)
	assert.Equal(t, JobReady, spy.settled[0].Status)
	stored, _ := d.Get(context.Background(), job.ID)
	assert.Equal(t, "simpler words", stored.ResultRef)
}

func TestDispatchRecoversBackendPanic(t *testing.T) {
	backend := &fakeBackend{panics: true}
	d, spy, _ := newTestDispatcher(backend)

	d.Dispatch(context.Background(), "u1", videoDecision())
	d.Wait()

	require.Len(t, spy.settled, 1)
	assert.Equal(t, JobFailed, spy.settled[0].Status)
	assert.Contains(t, spy.settled[0].Error, "backend panic")
}

func TestDispatchWithoutBackendFailsImmediately(t *testing.T) {
	d, spy, _ := newTestDispatcher(&fakeBackend{})
	decision := videoDecision()
	decision.Kind = KindFlashcards

	job := d.Dispatch(context.Background(), "u1", decision)
	d.Wait()

	assert.Equal(t, JobFailed, job.Status)
	assert.Contains(t, job.Error, "no backend")
	assert.Empty(t, spy.settled, "caller handles immediate failures")
}

func TestPollStatusErrorMarksFailed(t *testing.T) {
	backend := &fakeBackend{acc: Acceptance{ExternalID: "ext-1"}, statusErr: errors.New("connection reset")}
	d, spy, _ := newTestDispatcher(backend)

	job := d.Dispatch(context.Background(), "u1", videoDecision())
	d.Wait()

	polled, err := d.Poll(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, polled.Status)
	assert.Equal(t, "connection reset", polled.Error)
	assert.Len(t, spy.settled, 1)
}

func TestPollUnknownJob(t *testing.T) {
	d, _, _ := newTestDispatcher(&fakeBackend{})

	_, err := d.Poll(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPollPending(t *testing.T) {
	backend := &fakeBackend{acc: Acceptance{ExternalID: "ext"}, status: ExternalStatus{Status: JobPending}}
	d, spy, clock := newTestDispatcher(backend)
	ctx := context.Background()

	d.Dispatch(ctx, "u1", videoDecision())
	clock.Set(at(1))
	d.Dispatch(ctx, "u2", videoDecision())
	d.Wait()

	n, err := d.PollPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	backend.set(func(f *fakeBackend) { f.status = ExternalStatus{Status: JobFailed} })
	n, err = d.PollPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, spy.settled, 2)
	assert.Equal(t, "generation failed", spy.settled[0].Error)

	pending, err := NewMemoryJobStore().ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPollFailsJobPastMaxAge(t *testing.T) {
	backend := &fakeBackend{acc: Acceptance{ExternalID: "ext-1"}, status: ExternalStatus{Status: JobPending}}
	d, spy, clock := newTestDispatcher(backend)
	ctx := context.Background()

	job := d.Dispatch(ctx, "u1", videoDecision())
	d.Wait()

	maxAge := DefaultConfig().MaxJobAge
	for elapsed := 5 * time.Second; elapsed < maxAge; elapsed += 5 * time.Second {
		clock.Set(at(0).Add(elapsed))
		polled, err := d.Poll(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, JobPending, polled.Status)
	}
	assert.Empty(t, spy.settled)
	polls := backend.polls

	clock.Set(at(0).Add(maxAge))
	polled, err := d.Poll(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, polled.Status)
	assert.Equal(t, "generation timed out", polled.Error)
	assert.Equal(t, polls, backend.polls, "an expired job is not sent to the backend")
	require.Len(t, spy.settled, 1)
	assert.Equal(t, job.ID, spy.settled[0].ID)
}

func TestMaxJobAgeNeverBelowOrphanCeiling(t *testing.T) {
	cfg := Config{OrphanCeiling: 5 * time.Minute, MaxJobAge: time.Minute}.normalized()
	assert.Equal(t, 10*time.Minute, cfg.MaxJobAge)

	cfg = Config{OrphanCeiling: 20 * time.Minute, MaxJobAge: time.Minute}.normalized()
	assert.Equal(t, 20*time.Minute, cfg.MaxJobAge)

	cfg = Config{MaxJobAge: 30 * time.Minute}.normalized()
	assert.Equal(t, 30*time.Minute, cfg.MaxJobAge)
}
