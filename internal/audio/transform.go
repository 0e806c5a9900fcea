package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/voice-forge/pkg/log"
	"golang.org/x/sync/errgroup"
)

// TransformConfig controls the deterministic per-file transform chain:
// decode -> downmix -> resample -> trim -> normalize -> pad.
type TransformConfig struct {
	TargetDBFS         float64 `json:"target_dbfs"`
	SilenceThresholdDB float64 `json:"silence_threshold_db"`
	PaddingMs          int     `json:"padding_ms"`
	TargetSampleRate   int     `json:"target_sample_rate"`
}

// DefaultTransformConfig mirrors the recording studio defaults: peak at
// -1 dBFS, silence below -40 dB trimmed, 200ms pad, 22.05kHz mono.
func DefaultTransformConfig() TransformConfig {
	return TransformConfig{
		TargetDBFS:         -1.0,
		SilenceThresholdDB: -40.0,
		PaddingMs:          200,
		TargetSampleRate:   22050,
	}
}

// Result records the outcome for one file. Failures are isolated to the
// file; a batch never aborts because one input was corrupt.
type Result struct {
	Filename       string  `json:"filename"`
	Success        bool    `json:"success"`
	DurationBefore float64 `json:"duration_before"`
	DurationAfter  float64 `json:"duration_after"`
	Error          string  `json:"error,omitempty"`
}

// BatchSummary aggregates per-file results of one batch run.
type BatchSummary struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// Transformer runs the non-destructive transform chain. Output always goes
// to a segregated namespace so raw and transformed audio coexist.
type Transformer struct {
	decoder     Decoder
	concurrency int
}

type TransformerOption func(*Transformer)

// WithDecoder replaces the ffmpeg decoder, mainly for tests.
func WithDecoder(d Decoder) TransformerOption {
	return func(t *Transformer) {
		t.decoder = d
	}
}

// WithConcurrency bounds parallel file transforms in a batch.
func WithConcurrency(n int) TransformerOption {
	return func(t *Transformer) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

func NewTransformer(opts ...TransformerOption) *Transformer {
	t := &Transformer{
		decoder:     NewFfmpegDecoder(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// process applies the in-memory portion of the chain. Order is fixed: the
// decode step already produced mono audio at the target rate.
func process(clip *Clip, cfg TransformConfig) *Clip {
	samples := trimSilence(clip.Samples, clip.SampleRate, cfg.SilenceThresholdDB)
	samples = normalizePeak(samples, cfg.TargetDBFS)
	samples = padSilence(samples, clip.SampleRate, cfg.PaddingMs)
	return &Clip{SampleRate: clip.SampleRate, Samples: samples}
}

// TransformFile transforms a single recording into outputDir. The input is
// never mutated.
func (t *Transformer) TransformFile(ctx context.Context, inputPath, outputDir string, cfg TransformConfig) Result {
	name := filepath.Base(inputPath)
	ret := Result{Filename: name}

	clip, err := t.decoder.Decode(ctx, inputPath, cfg.TargetSampleRate)
	if err != nil {
		ret.Error = err.Error()
		return ret
	}
	ret.DurationBefore = clip.Duration()

	if len(clip.Samples) == 0 {
		ret.Error = "zero-length audio"
		return ret
	}

	out := process(clip, cfg)

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		ret.Error = fmt.Sprintf("create output namespace: %v", err)
		return ret
	}
	if err := WriteWAV(filepath.Join(outputDir, name), out); err != nil {
		ret.Error = fmt.Sprintf("write output: %v", err)
		return ret
	}

	ret.Success = true
	ret.DurationAfter = out.Duration()
	return ret
}

// TransformBatch transforms every .wav file directly under inputDir into
// outputDir. Outputs land on per-file-unique paths, so concurrent batches
// over disjoint file sets never collide.
func (t *Transformer) TransformBatch(ctx context.Context, inputDir, outputDir string, cfg TransformConfig) (BatchSummary, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("read recordings directory: %w", err)
	}

	inputs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".wav") {
			continue
		}
		inputs = append(inputs, filepath.Join(inputDir, entry.Name()))
	}

	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(inputs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, input := range inputs {
		input := input
		g.Go(func() error {
			result := t.TransformFile(gctx, input, outputDir, cfg)
			if !result.Success {
				log.Warn("Transform failed for %s: %s", result.Filename, result.Error)
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchSummary{}, err
	}

	summary := BatchSummary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	log.Info("Transform batch finished: %d ok, %d failed (of %d)",
		summary.Succeeded, summary.Failed, summary.Total)
	return summary, nil
}
