package training

import (
	"time"

	"github.com/MimeLyc/voice-forge/internal/dataset"
)

// State is the lifecycle phase of a training job. Terminal states are
// final; no transition ever leaves them.
type State string

const (
	StateQueued    State = "queued"
	StatePreparing State = "preparing"
	StateAligning  State = "aligning"
	StateTraining  State = "training"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Active reports whether the job currently owns a worker.
func (s State) Active() bool {
	switch s {
	case StatePreparing, StateAligning, StateTraining:
		return true
	}
	return false
}

// canTransition encodes the forward path queued -> preparing -> aligning ->
// training -> completed, with failed reachable from any active state and
// cancelled from any non-terminal one.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatePreparing:
		return from == StateQueued
	case StateAligning:
		return from == StatePreparing
	case StateTraining:
		return from == StateAligning
	case StateCompleted:
		return from == StateTraining
	case StateFailed:
		return from.Active()
	case StateCancelled:
		return true
	}
	return false
}

// AlignmentMode says which phoneme alignment produced the dataset labels.
type AlignmentMode string

const (
	AlignMFA   AlignmentMode = "mfa"
	AlignBasic AlignmentMode = "basic"
)

// JobConfig is the immutable request a training job is created from.
type JobConfig struct {
	ProfileID     string              `json:"profile_id"`
	PromptListIDs []string            `json:"prompt_list_ids"`
	AudioSource   dataset.AudioSource `json:"audio_source"`
	LanguageCode  string              `json:"language_code"`
	BaseVoice     string              `json:"base_voice"`
	Epochs        int                 `json:"epochs"`
	BatchSize     int                 `json:"batch_size"`
	LearningRate  float64             `json:"learning_rate"`
	ValidationPct float64             `json:"validation_pct"`
	UseGPU        bool                `json:"use_gpu"`
	MixedPrec     bool                `json:"mixed_precision"`
	AlignmentMode AlignmentMode       `json:"alignment_mode"`
}

// Validate rejects configurations that could never train. Defaults are
// not applied here; callers fill them first.
func (c JobConfig) Validate() error {
	if c.ProfileID == "" {
		return &ValidationError{Field: "profile_id", Reason: "required"}
	}
	if len(c.PromptListIDs) == 0 {
		return &ValidationError{Field: "prompt_list_ids", Reason: "at least one prompt list is required"}
	}
	if c.LanguageCode == "" {
		return &ValidationError{Field: "language_code", Reason: "required"}
	}
	if c.AudioSource != dataset.SourceRaw && c.AudioSource != dataset.SourcePreprocessed {
		return &ValidationError{Field: "audio_source", Reason: "must be raw or preprocessed"}
	}
	if c.Epochs <= 0 {
		return &ValidationError{Field: "epochs", Reason: "must be positive"}
	}
	if c.BatchSize <= 0 {
		return &ValidationError{Field: "batch_size", Reason: "must be positive"}
	}
	if c.LearningRate <= 0 {
		return &ValidationError{Field: "learning_rate", Reason: "must be positive"}
	}
	if c.ValidationPct <= 0 || c.ValidationPct >= 1 {
		return &ValidationError{Field: "validation_pct", Reason: "must be in (0, 1)"}
	}
	if c.AlignmentMode != AlignMFA && c.AlignmentMode != AlignBasic {
		return &ValidationError{Field: "alignment_mode", Reason: "must be mfa or basic"}
	}
	return nil
}

// TrainingJob is the mutable job record. The registry hands out snapshots;
// only registry methods mutate the live copy.
type TrainingJob struct {
	ID            string        `json:"id"`
	Config        JobConfig     `json:"config"`
	State         State         `json:"state"`
	Error         string        `json:"error,omitempty"`
	CurrentEpoch  int           `json:"current_epoch"`
	LastLoss      float64       `json:"last_loss"`
	UsedGPU       bool          `json:"used_gpu"`
	AlignmentUsed AlignmentMode `json:"alignment_used,omitempty"`
	OutputDir     string        `json:"output_dir,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ProgressRecord is one append-only progress event for a job.
type ProgressRecord struct {
	JobID     string    `json:"job_id"`
	State     State     `json:"state"`
	Epoch     int       `json:"epoch,omitempty"`
	Loss      float64   `json:"loss,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
