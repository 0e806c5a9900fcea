package training

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTrainerScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-train.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestTrainer_ParsesEpochProgressAndWritesLog(t *testing.T) {
	script := writeTrainerScript(t, `echo "epoch=1 loss=0.91"
echo "epoch=2 loss=0.47"
`)
	outputDir := t.TempDir()

	var epochs []EpochProgress
	trainer := NewTrainer(script)
	err := trainer.Run(context.Background(), TrainParams{
		DatasetDir:   "dataset",
		OutputDir:    outputDir,
		Epochs:       2,
		BatchSize:    16,
		LearningRate: 0.0001,
	}, func(p EpochProgress) { epochs = append(epochs, p) })
	require.NoError(t, err)

	require.Len(t, epochs, 2)
	assert.Equal(t, EpochProgress{Epoch: 2, Loss: 0.47}, epochs[1])

	logData, err := os.ReadFile(filepath.Join(outputDir, "logs", "train.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "Trainer started")
	assert.Contains(t, string(logData), "epoch=2 loss=0.47")
}

func TestTrainer_OutOfMemoryIsResourceExhaustion(t *testing.T) {
	script := writeTrainerScript(t, `echo "RuntimeError: CUDA out of memory"
exit 1
`)

	trainer := NewTrainer(script)
	err := trainer.Run(context.Background(), TrainParams{
		OutputDir:    t.TempDir(),
		Epochs:       1,
		BatchSize:    1,
		LearningRate: 0.1,
	}, nil)

	var exhausted *ResourceExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "device memory", exhausted.Resource)
}

func TestTrainer_OtherExitFailuresAreInternal(t *testing.T) {
	script := writeTrainerScript(t, `echo "boom"
exit 3
`)

	trainer := NewTrainer(script)
	err := trainer.Run(context.Background(), TrainParams{
		OutputDir:    t.TempDir(),
		Epochs:       1,
		BatchSize:    1,
		LearningRate: 0.1,
	}, nil)

	var internal *InternalError
	require.ErrorAs(t, err, &internal)
}
