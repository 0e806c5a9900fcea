package training

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/MimeLyc/voice-forge/pkg/log"
)

// TrainParams is everything the external trainer binary needs for one run.
type TrainParams struct {
	DatasetDir     string
	CheckpointPath string
	OutputDir      string
	Epochs         int
	BatchSize      int
	LearningRate   float64
	UseGPU         bool
	MixedPrecision bool
}

// EpochProgress is one parsed progress line from the trainer.
type EpochProgress struct {
	Epoch int
	Loss  float64
}

// Trainer shells out to the external training binary and streams its
// epoch progress back through a callback. Cancellation kills the process;
// the trainer itself checkpoints at epoch boundaries so nothing later
// than the last finished epoch is lost.
type Trainer struct {
	cmd string
}

func NewTrainer(cmd string) *Trainer {
	if cmd == "" {
		cmd = "piper-train"
	}
	return &Trainer{cmd: cmd}
}

// epochLine matches trainer progress output like "epoch=12 loss=0.4831".
var epochLine = regexp.MustCompile(`epoch[=: ]+(\d+).*?loss[=: ]+([0-9]*\.?[0-9]+)`)

func (t *Trainer) args(p TrainParams) []string {
	args := []string{
		"--dataset-dir", p.DatasetDir,
		"--output-dir", filepath.Join(p.OutputDir, "checkpoints"),
		"--max-epochs", strconv.Itoa(p.Epochs),
		"--batch-size", strconv.Itoa(p.BatchSize),
		"--learning-rate", strconv.FormatFloat(p.LearningRate, 'g', -1, 64),
	}
	if p.CheckpointPath != "" {
		args = append(args, "--resume-from-checkpoint", p.CheckpointPath)
	}
	if p.UseGPU {
		args = append(args, "--accelerator", "gpu")
		if p.MixedPrecision {
			args = append(args, "--precision", "16-mixed")
		}
	} else {
		args = append(args, "--accelerator", "cpu")
	}
	return args
}

// Run blocks until the trainer exits. onEpoch fires once per parsed epoch
// line. A cancelled context surfaces as ctx.Err(), not as a process error.
func (t *Trainer) Run(ctx context.Context, p TrainParams, onEpoch func(EpochProgress)) error {
	binary, err := exec.LookPath(t.cmd)
	if err != nil {
		return &InternalError{Op: "locate trainer", Cause: err}
	}

	trainLog, err := log.NewFileLogger(filepath.Join(p.OutputDir, "logs", "train.log"), log.LevelDebug)
	if err != nil {
		return &InternalError{Op: "create train log", Cause: err}
	}
	defer trainLog.Close()

	cmd := exec.CommandContext(ctx, binary, t.args(p)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &InternalError{Op: "pipe trainer stdout", Cause: err}
	}
	cmd.Stderr = trainLog.Writer()

	if err := cmd.Start(); err != nil {
		return &InternalError{Op: "start trainer", Cause: err}
	}
	trainLog.Info("Trainer started: %s (%d epochs, batch %d)", t.cmd, p.Epochs, p.BatchSize)
	log.Info("Trainer started: %s (%d epochs, batch %d)", t.cmd, p.Epochs, p.BatchSize)

	sawOOM := t.consumeProgress(stdout, trainLog.Writer(), onEpoch)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sawOOM {
			return &ResourceExhaustedError{Resource: "device memory"}
		}
		return &InternalError{Op: "trainer exited", Cause: err}
	}
	return nil
}

func (t *Trainer) consumeProgress(stdout io.Reader, logFile io.Writer, onEpoch func(EpochProgress)) (sawOOM bool) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(logFile, line)
		if strings.Contains(strings.ToLower(line), "out of memory") {
			sawOOM = true
		}

		match := epochLine.FindStringSubmatch(line)
		if match == nil || onEpoch == nil {
			continue
		}
		epoch, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		loss, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			continue
		}
		onEpoch(EpochProgress{Epoch: epoch, Loss: loss})
	}
	return sawOOM
}
