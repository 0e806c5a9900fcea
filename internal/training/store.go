package training

import "context"

// Store persists job states and progress logs for restart recovery.
type Store interface {
	LoadJobs(ctx context.Context) ([]*TrainingJob, error)
	UpsertJob(ctx context.Context, job *TrainingJob) error
	AppendProgress(ctx context.Context, record ProgressRecord) error
	LoadProgress(ctx context.Context, jobID string) ([]ProgressRecord, error)
	DeleteJob(ctx context.Context, jobID string) error
	// DeleteJobData removes all auxiliary data (progress log) for a job.
	DeleteJobData(ctx context.Context, jobID string) error
}
