package training

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/MimeLyc/voice-forge/internal/checkpoints"
	"github.com/MimeLyc/voice-forge/internal/dataset"
	"github.com/MimeLyc/voice-forge/pkg/log"
)

// DatasetAssembler builds the train/validation manifest for a profile.
type DatasetAssembler interface {
	Assemble(req dataset.Request) (*dataset.Manifest, error)
}

// CheckpointProvider resolves a base model to a local file.
type CheckpointProvider interface {
	Download(ctx context.Context, languageCode, voiceID string) (checkpoints.CachedCheckpoint, error)
}

// PhonemeAligner produces phoneme labels for an assembled dataset.
type PhonemeAligner interface {
	Align(ctx context.Context, datasetDir, languageCode string, requested AlignmentMode) (AlignmentMode, error)
}

// ModelTrainer runs the actual training process.
type ModelTrainer interface {
	Run(ctx context.Context, p TrainParams, onEpoch func(EpochProgress)) error
}

// Runner drives one job through preparing, aligning and training. It is
// the registry's Executor; terminal states are the worker's business.
type Runner struct {
	registry    *Registry
	assembler   DatasetAssembler
	checkpoints CheckpointProvider
	aligner     PhonemeAligner
	trainer     ModelTrainer
	gpu         *GPULock
	outputRoot  string
}

func NewRunner(
	registry *Registry,
	assembler DatasetAssembler,
	ckpts CheckpointProvider,
	aligner PhonemeAligner,
	trainer ModelTrainer,
	gpu *GPULock,
	outputRoot string,
) *Runner {
	return &Runner{
		registry:    registry,
		assembler:   assembler,
		checkpoints: ckpts,
		aligner:     aligner,
		trainer:     trainer,
		gpu:         gpu,
		outputRoot:  outputRoot,
	}
}

func (r *Runner) Run(ctx context.Context, job *TrainingJob) error {
	cfg := job.Config
	outputDir := filepath.Join(r.outputRoot, job.ID)
	datasetDir := filepath.Join(outputDir, "dataset")

	r.registry.Annotate(job.ID, func(j *TrainingJob) { j.OutputDir = outputDir })

	// Preparing: assemble the dataset and resolve the base checkpoint.
	manifest, err := r.assembler.Assemble(dataset.Request{
		ProfileID:     cfg.ProfileID,
		PromptListIDs: cfg.PromptListIDs,
		Source:        cfg.AudioSource,
		SplitRatio:    1 - cfg.ValidationPct,
		Seed:          job.ID,
	})
	if err != nil {
		return err
	}
	if err := manifest.WriteSplits(datasetDir); err != nil {
		return &InternalError{Op: "write dataset splits", Cause: err}
	}
	log.Info("Job %s: dataset assembled, %d train / %d validation",
		job.ID, len(manifest.Train), len(manifest.Validation))

	var checkpointPath string
	if cfg.BaseVoice != "" {
		cached, err := r.checkpoints.Download(ctx, cfg.LanguageCode, cfg.BaseVoice)
		if err != nil {
			return err
		}
		checkpointPath = cached.LocalPath
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Aligning.
	if _, err := r.registry.Advance(job.ID, StateAligning, "aligning phonemes"); err != nil {
		return err
	}
	mode, err := r.aligner.Align(ctx, datasetDir, cfg.LanguageCode, cfg.AlignmentMode)
	if err != nil {
		return err
	}
	r.registry.Annotate(job.ID, func(j *TrainingJob) { j.AlignmentUsed = mode })
	if mode != cfg.AlignmentMode {
		log.Warn("Job %s: alignment fell back from %s to %s", job.ID, cfg.AlignmentMode, mode)
		r.registry.Note(job.ID, fmt.Sprintf("alignment fell back from %s to %s", cfg.AlignmentMode, mode))
	}

	// Training. The GPU is released no matter how the run ends.
	if _, err := r.registry.Advance(job.ID, StateTraining,
		fmt.Sprintf("training for %d epochs", cfg.Epochs)); err != nil {
		return err
	}

	onGPU := false
	release := func() {}
	if cfg.UseGPU {
		release, onGPU = r.gpu.Acquire(ctx)
	}
	defer release()
	r.registry.Annotate(job.ID, func(j *TrainingJob) { j.UsedGPU = onGPU })
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.trainer.Run(ctx, TrainParams{
		DatasetDir:     datasetDir,
		CheckpointPath: checkpointPath,
		OutputDir:      outputDir,
		Epochs:         cfg.Epochs,
		BatchSize:      cfg.BatchSize,
		LearningRate:   cfg.LearningRate,
		UseGPU:         onGPU,
		MixedPrecision: cfg.MixedPrec && onGPU,
	}, func(p EpochProgress) {
		r.registry.RecordEpoch(job.ID, p.Epoch, p.Loss)
	})
}
