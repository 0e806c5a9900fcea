package training

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/voice-forge/pkg/log"
	"github.com/google/uuid"
)

// Executor runs one job through its active phases. The context is
// cancelled when the job is cancelled or the registry stops.
type Executor func(ctx context.Context, job *TrainingJob) error

// Registry owns every training job and enforces the state machine. Workers
// pull queued job ids off a channel; all mutation goes through the
// registry's lock and is persisted to the store.
type Registry struct {
	workerCount int
	maxJobs     int
	store       Store

	mu         sync.RWMutex
	jobs       map[string]*TrainingJob
	cancels    map[string]context.CancelFunc
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewRegistry(workerCount int, store Store) *Registry {
	if workerCount <= 0 {
		workerCount = 1
	}
	r := &Registry{
		workerCount: workerCount,
		maxJobs:     1000,
		store:       store,
		jobs:        make(map[string]*TrainingJob),
		cancels:     make(map[string]context.CancelFunc),
		pendingIDs:  make(chan string, 1024),
		stopCh:      make(chan struct{}),
	}
	r.hydrateFromStore(context.Background())
	return r
}

// Submit validates the config and creates a queued job. The returned job
// is a snapshot.
func (r *Registry) Submit(cfg JobConfig) (*TrainingJob, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &TrainingJob{
		ID:        uuid.NewString(),
		Config:    cfg,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	started := r.started
	snapshot := cloneJob(job)
	r.mu.Unlock()

	r.persistJob(snapshot)
	r.appendProgress(ProgressRecord{
		JobID:     job.ID,
		State:     StateQueued,
		Message:   "job accepted",
		Timestamp: now,
	})
	if started {
		r.enqueuePendingID(job.ID)
	}
	return snapshot, nil
}

func (r *Registry) Get(id string) (*TrainingJob, bool) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

func (r *Registry) List() []*TrainingJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]*TrainingJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		ret = append(ret, cloneJob(job))
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].CreatedAt.Before(ret[j].CreatedAt) })
	return ret
}

// Progress returns the job's append-only progress log.
func (r *Registry) Progress(ctx context.Context, id string) ([]ProgressRecord, error) {
	if _, ok := r.Get(id); !ok {
		return nil, ErrJobNotFound
	}
	if r.store == nil {
		return nil, nil
	}
	return r.store.LoadProgress(ctx, id)
}

// Cancel requests cancellation. Queued jobs flip to cancelled immediately;
// active jobs keep running until the next epoch boundary, where the
// executor observes the cancelled context.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrJobNotFound
	}
	if job.State.Terminal() {
		r.mu.Unlock()
		return ErrJobTerminal
	}
	if job.State == StateQueued {
		job.State = StateCancelled
		job.UpdatedAt = time.Now()
		snapshot := cloneJob(job)
		r.mu.Unlock()

		r.persistJob(snapshot)
		r.appendProgress(ProgressRecord{
			JobID:     id,
			State:     StateCancelled,
			Message:   "cancelled before start",
			Timestamp: snapshot.UpdatedAt,
		})
		return nil
	}
	cancel := r.cancels[id]
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	log.Info("Cancellation requested for running job %s", id)
	return nil
}

// Start spins up the worker pool and requeues jobs left queued by a
// previous run. Idempotent.
func (r *Registry) Start(exec Executor) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true

	pending := make([]*TrainingJob, 0)
	for _, job := range r.jobs {
		if job.State == StateQueued {
			pending = append(pending, job)
		}
	}
	r.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	for _, job := range pending {
		r.enqueuePendingID(job.ID)
	}

	for i := 0; i < r.workerCount; i++ {
		r.wg.Add(1)
		go r.worker(exec)
	}
}

func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *Registry) worker(exec Executor) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case id := <-r.pendingIDs:
			job, ctx, ok := r.beginJob(id)
			if !ok {
				continue
			}

			err := exec(ctx, job)
			r.finishJob(id, ctx, err)
		}
	}
}

// beginJob moves a queued job to preparing and arms its cancel context.
func (r *Registry) beginJob(id string) (*TrainingJob, context.Context, bool) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || job.State != StateQueued {
		r.mu.Unlock()
		return nil, nil, false
	}
	job.State = StatePreparing
	job.UpdatedAt = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancels[id] = cancel
	snapshot := cloneJob(job)
	r.mu.Unlock()

	r.persistJob(snapshot)
	r.appendProgress(ProgressRecord{
		JobID:     id,
		State:     StatePreparing,
		Message:   "assembling dataset",
		Timestamp: snapshot.UpdatedAt,
	})
	return snapshot, ctx, true
}

func (r *Registry) finishJob(id string, ctx context.Context, execErr error) {
	// Read before the teardown cancel below flips ctx.Err() for every job.
	wasCancelled := ctx.Err() != nil

	r.mu.Lock()
	if cancel, ok := r.cancels[id]; ok {
		cancel()
		delete(r.cancels, id)
	}
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	now := time.Now()
	var message string
	switch {
	case wasCancelled && !job.State.Terminal():
		job.State = StateCancelled
		job.Error = ""
		message = "cancelled"
	case execErr != nil:
		job.State = StateFailed
		job.Error = execErr.Error()
		message = execErr.Error()
	default:
		job.State = StateCompleted
		job.Error = ""
		message = "training complete"
	}
	job.UpdatedAt = now
	pruned := r.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	r.mu.Unlock()

	r.persistJob(snapshot)
	r.appendProgress(ProgressRecord{
		JobID:     id,
		State:     snapshot.State,
		Epoch:     snapshot.CurrentEpoch,
		Message:   message,
		Timestamp: now,
	})
	r.deleteJobsFromStore(pruned)
}

// Advance moves an active job to the next phase. Illegal transitions,
// including anything out of a terminal state, are rejected.
func (r *Registry) Advance(id string, to State, message string) (*TrainingJob, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrJobNotFound
	}
	if !canTransition(job.State, to) {
		from := job.State
		r.mu.Unlock()
		if from.Terminal() {
			return nil, ErrJobTerminal
		}
		return nil, &InternalError{Op: "advance " + id, Cause: illegalTransition(from, to)}
	}
	job.State = to
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	r.mu.Unlock()

	r.persistJob(snapshot)
	r.appendProgress(ProgressRecord{
		JobID:     id,
		State:     to,
		Epoch:     snapshot.CurrentEpoch,
		Message:   message,
		Timestamp: snapshot.UpdatedAt,
	})
	return snapshot, nil
}

// RecordEpoch updates the live loss figures and appends a progress event.
func (r *Registry) RecordEpoch(id string, epoch int, loss float64) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	job.CurrentEpoch = epoch
	job.LastLoss = loss
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	r.mu.Unlock()

	r.persistJob(snapshot)
	r.appendProgress(ProgressRecord{
		JobID:     id,
		State:     snapshot.State,
		Epoch:     epoch,
		Loss:      loss,
		Timestamp: snapshot.UpdatedAt,
	})
}

// Note appends a progress message without changing state.
func (r *Registry) Note(id, message string) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	var state State
	var epoch int
	if ok {
		state = job.State
		epoch = job.CurrentEpoch
	}
	r.mu.RUnlock()
	if !ok {
		return
	}

	r.appendProgress(ProgressRecord{
		JobID:     id,
		State:     state,
		Epoch:     epoch,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Annotate records execution facts discovered along the way, like whether
// the GPU was actually used or which alignment mode ran.
func (r *Registry) Annotate(id string, fn func(job *TrainingJob)) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(job)
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	r.mu.Unlock()

	r.persistJob(snapshot)
}

func (r *Registry) enqueuePendingID(id string) {
	select {
	case r.pendingIDs <- id:
	default:
		go func() {
			select {
			case r.pendingIDs <- id:
			case <-r.stopCh:
			}
		}()
	}
}

func (r *Registry) pruneTerminalJobsLocked() []string {
	if r.maxJobs <= 0 || len(r.jobs) <= r.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(r.jobs))
	for id, job := range r.jobs {
		if job == nil || !job.State.Terminal() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := len(r.jobs) - r.maxJobs
	if toRemove <= 0 {
		return nil
	}
	if toRemove > len(terminal) {
		toRemove = len(terminal)
	}

	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		delete(r.jobs, terminal[i].id)
		pruned = append(pruned, terminal[i].id)
	}
	return pruned
}

func (r *Registry) deleteJobsFromStore(ids []string) {
	if r.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := r.store.DeleteJobData(context.Background(), id); err != nil {
			log.Error("Failed to delete data for pruned job %s: %v", id, err)
		}
		if err := r.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s from store: %v", id, err)
		}
	}
}

// hydrateFromStore reloads persisted jobs. Jobs caught mid-flight by a
// crash go back to queued so a worker picks them up again.
func (r *Registry) hydrateFromStore(ctx context.Context) {
	if r.store == nil {
		return
	}
	loaded, err := r.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*TrainingJob, 0)
	r.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.State.Active() {
			job.State = StateQueued
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		r.jobs[job.ID] = job
	}
	r.mu.Unlock()

	for _, job := range toPersist {
		log.Info("Requeued interrupted job %s", job.ID)
		r.persistJob(job)
	}
}

func (r *Registry) persistJob(job *TrainingJob) {
	if r.store == nil || job == nil {
		return
	}
	if err := r.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func (r *Registry) appendProgress(record ProgressRecord) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendProgress(context.Background(), record); err != nil {
		log.Error("Failed to append progress for job %s: %v", record.JobID, err)
	}
}

func cloneJob(job *TrainingJob) *TrainingJob {
	if job == nil {
		return nil
	}
	tmp := *job
	tmp.Config.PromptListIDs = append([]string(nil), job.Config.PromptListIDs...)
	return &tmp
}
