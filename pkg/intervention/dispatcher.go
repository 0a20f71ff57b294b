package intervention

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GenerationRequest is what a backend receives to start one remediation.
type GenerationRequest struct {
	JobID         string
	UserID        string
	Kind          Kind
	Trigger       SignalKind
	Topic         string
	ReferenceText string
	Level         float64
}

// Acceptance is a backend's answer to Start. Synchronous services set Done
// and ResultRef; asynchronous ones return an ExternalID to poll.
type Acceptance struct {
	ExternalID string
	Done       bool
	ResultRef  string
}

// ExternalStatus is a backend's view of a running generation.
type ExternalStatus struct {
	Status    JobStatus
	ResultRef string
	Error     string
}

// Backend is an opaque generation service for one kind.
type Backend interface {
	Start(ctx context.Context, req GenerationRequest) (Acceptance, error)
	Status(ctx context.Context, externalID string) (ExternalStatus, error)
}

// JobStore persists intervention jobs.
type JobStore interface {
	Save(ctx context.Context, job InterventionJob) error
	Get(ctx context.Context, id string) (InterventionJob, error)
	ListPending(ctx context.Context) ([]InterventionJob, error)
}

// jobListener is notified by the dispatcher. settled fires once per job when
// it reaches a terminal status; polled fires on every non-terminal poll.
type jobListener interface {
	jobSettled(job InterventionJob)
	jobPolled(job InterventionJob, at time.Time)
}

// Dispatcher turns Fire decisions into jobs and tracks them to completion.
// It never retries.
type Dispatcher struct {
	backends map[Kind]Backend
	store    JobStore
	timeout  time.Duration
	maxAge   time.Duration
	logger   Logger
	now      func() time.Time

	mu       sync.Mutex
	listener jobListener
	// serializes terminal transitions so a settled job is reported once
	jobLocks sync.Map
	wg       sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBackend registers the backend for a kind.
func WithBackend(kind Kind, b Backend) DispatcherOption {
	return func(d *Dispatcher) { d.backends[kind] = b }
}

// WithJobStore replaces the in-memory job store.
func WithJobStore(s JobStore) DispatcherOption {
	return func(d *Dispatcher) { d.store = s }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher. Kinds without a backend fail at dispatch.
func NewDispatcher(cfg Config, opts ...DispatcherOption) *Dispatcher {
	cfg = cfg.normalized()
	d := &Dispatcher{
		backends: make(map[Kind]Backend),
		store:    NewMemoryJobStore(),
		timeout:  cfg.AcceptTimeout,
		maxAge:   cfg.MaxJobAge,
		logger:   nopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) setListener(l jobListener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

func (d *Dispatcher) currentListener() jobListener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener
}

// Dispatch creates a pending job for a Fire decision and starts the backend
// call in the background. A job whose kind has no backend, or that cannot be
// stored, is returned already failed and no callback follows; the caller
// clears its own in-flight flag.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, decision Decision) InterventionJob {
	now := d.now()
	job := InterventionJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		Class:     decision.Class,
		Kind:      decision.Kind,
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req := GenerationRequest{
		JobID:   job.ID,
		UserID:  userID,
		Kind:    decision.Kind,
		Trigger: decision.Trigger,
		Level:   decision.Level,
	}
	if decision.ContextUsed != nil {
		job.Topic = decision.ContextUsed.Topic
		req.Topic = decision.ContextUsed.Topic
		req.ReferenceText = decision.ContextUsed.ReferenceText
	}

	backend, ok := d.backends[decision.Kind]
	if !ok {
		job.Status = JobFailed
		job.Error = fmt.Sprintf("no backend for kind %q", decision.Kind)
	}
	if err := d.store.Save(ctx, job); err != nil && job.Status == JobPending {
		job.Status = JobFailed
		job.Error = fmt.Sprintf("store job: %v", err)
	}
	if job.Status == JobFailed {
		d.logger.Warn("DISPATCHER", "Dispatch failed before start", map[string]interface{}{
			"job_id": job.ID, "user_id": userID, "kind": string(job.Kind), "error": job.Error,
		})
		return job
	}

	d.wg.Add(1)
	go d.start(context.WithoutCancel(ctx), backend, job, req)
	return job
}

func (d *Dispatcher) start(ctx context.Context, backend Backend, job InterventionJob, req GenerationRequest) {
	defer d.wg.Done()

	startCtx, cancel := context.WithTimeout(ctx, d.timeout)
	acc, err := safeStart(startCtx, backend, req)
	cancel()

	lock := d.jobLock(job.ID)
	lock.Lock()
	defer lock.Unlock()

	// A poll may have raced ahead; re-read the stored copy.
	if stored, gerr := d.store.Get(ctx, job.ID); gerr == nil {
		job = stored
	}
	if job.Status.Terminal() {
		return
	}

	job.UpdatedAt = d.now()
	switch {
	case err != nil:
		job.Status = JobFailed
		job.Error = err.Error()
		d.logger.Warn("DISPATCHER", "Generation rejected", map[string]interface{}{
			"job_id": job.ID, "kind": string(job.Kind), "error": err.Error(),
		})
	case acc.Done:
		job.Status = JobReady
		job.ExternalID = acc.ExternalID
		job.ResultRef = acc.ResultRef
	default:
		job.ExternalID = acc.ExternalID
		d.logger.Info("DISPATCHER", "Generation accepted", map[string]interface{}{
			"job_id": job.ID, "kind": string(job.Kind), "external_id": acc.ExternalID,
		})
	}
	if serr := d.store.Save(ctx, job); serr != nil {
		d.logger.Error("DISPATCHER", "Failed to save job", map[string]interface{}{"job_id": job.ID, "error": serr.Error()})
	}
	if job.Status.Terminal() {
		d.settle(job)
	}
}

// Poll re-checks a job. Terminal jobs are returned unchanged. Backend errors
// mark the job failed; they are not returned. A job still pending after
// MaxJobAge is failed without asking the backend again.
func (d *Dispatcher) Poll(ctx context.Context, jobID string) (InterventionJob, error) {
	lock := d.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := d.store.Get(ctx, jobID)
	if err != nil {
		return InterventionJob{}, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	now := d.now()
	if !job.CreatedAt.IsZero() && now.Sub(job.CreatedAt) >= d.maxAge {
		job.Status = JobFailed
		job.Error = "generation timed out"
		return d.finish(ctx, job, now), nil
	}
	// Still waiting on Start.
	if job.ExternalID == "" {
		if l := d.currentListener(); l != nil {
			l.jobPolled(job, now)
		}
		return job, nil
	}

	backend, ok := d.backends[job.Kind]
	var st ExternalStatus
	if !ok {
		err = fmt.Errorf("no backend for kind %q", job.Kind)
	} else {
		st, err = safeStatus(ctx, backend, job.ExternalID)
	}

	switch {
	case err != nil:
		job.Status = JobFailed
		job.Error = err.Error()
	case st.Status == JobReady:
		job.Status = JobReady
		job.ResultRef = st.ResultRef
	case st.Status == JobFailed:
		job.Status = JobFailed
		job.Error = st.Error
		if job.Error == "" {
			job.Error = "generation failed"
		}
	default:
		if l := d.currentListener(); l != nil {
			l.jobPolled(job, now)
		}
		return job, nil
	}
	return d.finish(ctx, job, now), nil
}

// finish stores a job that just reached a terminal status and settles it.
func (d *Dispatcher) finish(ctx context.Context, job InterventionJob, now time.Time) InterventionJob {
	job.UpdatedAt = now
	if serr := d.store.Save(ctx, job); serr != nil {
		d.logger.Error("DISPATCHER", "Failed to save job", map[string]interface{}{"job_id": job.ID, "error": serr.Error()})
	}
	d.settle(job)
	return job
}

// PollPending polls every non-terminal job once and returns how many settled.
func (d *Dispatcher) PollPending(ctx context.Context) (int, error) {
	jobs, err := d.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	settled := 0
	for _, j := range jobs {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		job, perr := d.Poll(ctx, j.ID)
		if perr != nil {
			continue
		}
		if job.Status.Terminal() {
			settled++
		}
	}
	return settled, nil
}

// Get returns a stored job without polling the backend.
func (d *Dispatcher) Get(ctx context.Context, jobID string) (InterventionJob, error) {
	return d.store.Get(ctx, jobID)
}

// Wait blocks until every in-progress Start call has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) settle(job InterventionJob) {
	d.jobLocks.Delete(job.ID)
	d.logger.Info("DISPATCHER", "Job settled", map[string]interface{}{
		"job_id": job.ID, "user_id": job.UserID, "status": string(job.Status),
	})
	if l := d.currentListener(); l != nil {
		l.jobSettled(job)
	}
}

func (d *Dispatcher) jobLock(id string) *sync.Mutex {
	v, _ := d.jobLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func safeStart(ctx context.Context, b Backend, req GenerationRequest) (acc Acceptance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return b.Start(ctx, req)
}

func safeStatus(ctx context.Context, b Backend, externalID string) (st ExternalStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return b.Status(ctx, externalID)
}

// MemoryJobStore is the default JobStore.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]InterventionJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]InterventionJob)}
}

func (s *MemoryJobStore) Save(_ context.Context, job InterventionJob) error {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (InterventionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return InterventionJob{}, ErrJobNotFound
	}
	return job, nil
}

func (s *MemoryJobStore) ListPending(_ context.Context) ([]InterventionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []InterventionJob
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}
