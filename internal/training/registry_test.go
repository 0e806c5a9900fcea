package training

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/voice-forge/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for registry tests.
type memStore struct {
	mu       sync.Mutex
	jobs     map[string]*TrainingJob
	progress map[string][]ProgressRecord
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     make(map[string]*TrainingJob),
		progress: make(map[string][]ProgressRecord),
	}
}

func (s *memStore) LoadJobs(ctx context.Context) ([]*TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]*TrainingJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		ret = append(ret, cloneJob(job))
	}
	return ret, nil
}

func (s *memStore) UpsertJob(ctx context.Context, job *TrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *memStore) AppendProgress(ctx context.Context, record ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[record.JobID] = append(s.progress[record.JobID], record)
	return nil
}

func (s *memStore) LoadProgress(ctx context.Context, jobID string) ([]ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProgressRecord(nil), s.progress[jobID]...), nil
}

func (s *memStore) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *memStore) DeleteJobData(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.progress, jobID)
	return nil
}

func validConfig() JobConfig {
	return JobConfig{
		ProfileID:     "sven",
		PromptListIDs: []string{"sv-SE_General"},
		AudioSource:   dataset.SourceRaw,
		LanguageCode:  "sv-SE",
		Epochs:        10,
		BatchSize:     16,
		LearningRate:  0.0001,
		ValidationPct: 0.1,
		AlignmentMode: AlignMFA,
	}
}

func TestSubmit_RejectsInvalidConfig(t *testing.T) {
	r := NewRegistry(1, nil)
	defer r.Stop()

	cases := []func(*JobConfig){
		func(c *JobConfig) { c.ProfileID = "" },
		func(c *JobConfig) { c.PromptListIDs = nil },
		func(c *JobConfig) { c.LanguageCode = "" },
		func(c *JobConfig) { c.AudioSource = "mystery" },
		func(c *JobConfig) { c.Epochs = 0 },
		func(c *JobConfig) { c.BatchSize = -1 },
		func(c *JobConfig) { c.LearningRate = 0 },
		func(c *JobConfig) { c.ValidationPct = 1.5 },
		func(c *JobConfig) { c.AlignmentMode = "whisper" },
	}
	for _, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		_, err := r.Submit(cfg)
		var invalid *ValidationError
		assert.ErrorAs(t, err, &invalid)
	}
}

func TestJob_RunsThroughAllPhases(t *testing.T) {
	r := NewRegistry(1, newMemStore())
	defer r.Stop()

	var seen []State
	var mu sync.Mutex
	r.Start(func(ctx context.Context, job *TrainingJob) error {
		mu.Lock()
		seen = append(seen, job.State)
		mu.Unlock()
		if _, err := r.Advance(job.ID, StateAligning, ""); err != nil {
			return err
		}
		if _, err := r.Advance(job.ID, StateTraining, ""); err != nil {
			return err
		}
		return nil
	})

	job, err := r.Submit(validConfig())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := r.Get(job.ID)
		return got.State == StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []State{StatePreparing}, seen)
	mu.Unlock()

	records, err := r.Progress(context.Background(), job.ID)
	require.NoError(t, err)
	var states []State
	for _, rec := range records {
		states = append(states, rec.State)
	}
	assert.Equal(t, []State{StateQueued, StatePreparing, StateAligning, StateTraining, StateCompleted}, states)
}

func TestJob_ExecutorErrorMarksFailed(t *testing.T) {
	r := NewRegistry(1, newMemStore())
	defer r.Stop()

	r.Start(func(ctx context.Context, job *TrainingJob) error {
		return &InternalError{Op: "trainer exited", Cause: assert.AnError}
	})

	job, err := r.Submit(validConfig())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := r.Get(job.ID)
		return got.State == StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := r.Get(job.ID)
	assert.Contains(t, got.Error, "trainer exited")
}

func TestFinish_OutcomeReflectsExecutorResult(t *testing.T) {
	// Worker teardown cancels each job's context once the executor has
	// returned; that must never be mistaken for a cancellation request.
	r := NewRegistry(1, newMemStore())
	defer r.Stop()

	r.Start(func(ctx context.Context, job *TrainingJob) error {
		if job.Config.ProfileID == "broken" {
			return assert.AnError
		}
		if _, err := r.Advance(job.ID, StateAligning, ""); err != nil {
			return err
		}
		if _, err := r.Advance(job.ID, StateTraining, ""); err != nil {
			return err
		}
		return nil
	})

	good, err := r.Submit(validConfig())
	require.NoError(t, err)
	badCfg := validConfig()
	badCfg.ProfileID = "broken"
	bad, err := r.Submit(badCfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		g, _ := r.Get(good.ID)
		b, _ := r.Get(bad.ID)
		return g.State.Terminal() && b.State.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	g, _ := r.Get(good.ID)
	assert.Equal(t, StateCompleted, g.State)
	assert.Empty(t, g.Error)

	b, _ := r.Get(bad.ID)
	assert.Equal(t, StateFailed, b.State)
	assert.NotEmpty(t, b.Error)

	records, err := r.Progress(context.Background(), good.ID)
	require.NoError(t, err)
	for _, rec := range records {
		assert.NotEqual(t, StateCancelled, rec.State)
	}
}

func TestCancel_QueuedJobIsImmediate(t *testing.T) {
	r := NewRegistry(1, newMemStore())
	defer r.Stop()
	// Not started, so the job stays queued.

	job, err := r.Submit(validConfig())
	require.NoError(t, err)

	require.NoError(t, r.Cancel(job.ID))
	got, _ := r.Get(job.ID)
	assert.Equal(t, StateCancelled, got.State)

	// Terminal states are final.
	assert.ErrorIs(t, r.Cancel(job.ID), ErrJobTerminal)
	_, err = r.Advance(job.ID, StatePreparing, "")
	assert.ErrorIs(t, err, ErrJobTerminal)
}

func TestCancel_RunningJobStopsAtBoundary(t *testing.T) {
	r := NewRegistry(1, newMemStore())
	defer r.Stop()

	running := make(chan string, 1)
	r.Start(func(ctx context.Context, job *TrainingJob) error {
		running <- job.ID
		<-ctx.Done()
		return ctx.Err()
	})

	job, err := r.Submit(validConfig())
	require.NoError(t, err)

	select {
	case <-running:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	require.NoError(t, r.Cancel(job.ID))

	require.Eventually(t, func() bool {
		got, _ := r.Get(job.ID)
		return got.State == StateCancelled
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := r.Get(job.ID)
	assert.Empty(t, got.Error, "cancellation is not a failure")
}

func TestCancel_UnknownJob(t *testing.T) {
	r := NewRegistry(1, nil)
	defer r.Stop()
	assert.ErrorIs(t, r.Cancel("no-such-job"), ErrJobNotFound)
}

func TestRegistry_RequeuesInterruptedJobs(t *testing.T) {
	store := newMemStore()
	first := NewRegistry(1, store)
	job, err := first.Submit(validConfig())
	require.NoError(t, err)
	first.Stop()

	// Simulate a crash mid-training.
	interrupted, _ := first.Get(job.ID)
	interrupted.State = StateTraining
	require.NoError(t, store.UpsertJob(context.Background(), interrupted))

	second := NewRegistry(1, store)
	defer second.Stop()
	got, ok := second.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StateQueued, got.State)

	done := make(chan struct{})
	second.Start(func(ctx context.Context, j *TrainingJob) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("requeued job was never picked up")
	}
}

func TestStop_ReleasesOverflowEnqueues(t *testing.T) {
	r := NewRegistry(1, nil)
	// No workers drain the channel, so overflow spills into goroutines.
	before := runtime.NumGoroutine()
	for i := 0; i < cap(r.pendingIDs)+16; i++ {
		r.enqueuePendingID("queued-id")
	}
	r.Stop()

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecordEpoch_UpdatesSnapshot(t *testing.T) {
	r := NewRegistry(1, newMemStore())
	defer r.Stop()

	job, err := r.Submit(validConfig())
	require.NoError(t, err)

	r.RecordEpoch(job.ID, 3, 0.482)
	got, _ := r.Get(job.ID)
	assert.Equal(t, 3, got.CurrentEpoch)
	assert.InDelta(t, 0.482, got.LastLoss, 1e-9)

	records, err := r.Progress(context.Background(), job.ID)
	require.NoError(t, err)
	last := records[len(records)-1]
	assert.Equal(t, 3, last.Epoch)
	assert.InDelta(t, 0.482, last.Loss, 1e-9)
}
