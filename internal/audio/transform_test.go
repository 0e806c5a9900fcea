package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wavDecoder bypasses ffmpeg and reads 16-bit mono WAV files directly.
type wavDecoder struct{}

func (wavDecoder) Decode(_ context.Context, path string, _ int) (*Clip, error) {
	return ReadWAV(path)
}

// toneWithSilence builds 300ms silence + 500ms of a 440Hz tone + 700ms silence.
func toneWithSilence(sampleRate int, amplitude float64) *Clip {
	lead := make([]int16, sampleRate*300/1000)
	tail := make([]int16, sampleRate*700/1000)
	tone := make([]int16, sampleRate*500/1000)
	for i := range tone {
		tone[i] = int16(amplitude * fullScale * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	samples := append(append(lead, tone...), tail...)
	return &Clip{SampleRate: sampleRate, Samples: samples}
}

func TestProcess_TrimsNormalizesAndPads(t *testing.T) {
	cfg := DefaultTransformConfig()
	clip := toneWithSilence(22050, 0.25)

	out := process(clip, cfg)

	// 500ms tone + 2x200ms pad, with 10ms window granularity slack.
	assert.InDelta(t, 0.9, out.Duration(), 0.05)
	assert.InDelta(t, cfg.TargetDBFS, PeakdBFS(out.Samples), 0.2)

	// Padding is true silence.
	pad := out.SampleRate * cfg.PaddingMs / 1000
	assert.LessOrEqual(t, RMSdBFS(out.Samples[:pad]), cfg.SilenceThresholdDB)
}

func TestProcess_Idempotent(t *testing.T) {
	cfg := DefaultTransformConfig()
	clip := toneWithSilence(22050, 0.5)

	once := process(clip, cfg)
	twice := process(once, cfg)

	assert.InDelta(t, once.Duration(), twice.Duration(), 0.03)
	assert.InDelta(t, PeakdBFS(once.Samples), PeakdBFS(twice.Samples), 0.2)
}

func TestProcess_NearSilentClipGetsDefaultGain(t *testing.T) {
	cfg := DefaultTransformConfig()
	clip := &Clip{SampleRate: 22050, Samples: make([]int16, 22050)}

	out := process(clip, cfg)
	require.NotEmpty(t, out.Samples)
	// All-zero input stays zero regardless of gain.
	assert.LessOrEqual(t, PeakdBFS(out.Samples), silenceFloorDBFS)
}

func TestTransformFile_WritesToSeparateNamespaceOnly(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "chat_0001.wav")
	require.NoError(t, WriteWAV(input, toneWithSilence(22050, 0.25)))
	before, err := os.ReadFile(input)
	require.NoError(t, err)

	outputDir := filepath.Join(dir, "preprocessed")
	tr := NewTransformer(WithDecoder(wavDecoder{}))
	result := tr.TransformFile(context.Background(), input, outputDir, DefaultTransformConfig())

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "chat_0001.wav", result.Filename)
	assert.Greater(t, result.DurationBefore, result.DurationAfter)
	assert.FileExists(t, filepath.Join(outputDir, "chat_0001.wav"))

	after, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, before, after, "input must never be mutated")
}

func TestTransformBatch_IsolatesPerFileFailures(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, fmt.Sprintf("good_%04d.wav", i))
		require.NoError(t, WriteWAV(path, toneWithSilence(22050, 0.25)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.wav"), []byte("not audio"), 0o644))
	// Existing output namespace must be skipped as an input.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "preprocessed"), 0o755))

	tr := NewTransformer(WithDecoder(wavDecoder{}), WithConcurrency(2))
	summary, err := tr.TransformBatch(context.Background(), dir, filepath.Join(dir, "preprocessed"), DefaultTransformConfig())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
}

func TestWAV_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	clip := toneWithSilence(16000, 0.3)
	require.NoError(t, WriteWAV(path, clip))

	got, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, clip.SampleRate, got.SampleRate)
	assert.Equal(t, clip.Samples, got.Samples)
}

func TestDecodeWAV_RejectsGarbage(t *testing.T) {
	_, err := DecodeWAV([]byte("definitely not a wav file, far too short anyway"))
	assert.Error(t, err)
}
