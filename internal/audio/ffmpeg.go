package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/MimeLyc/voice-forge/pkg/log"
)

// Decoder turns an audio file of any supported container into mono 16-bit
// PCM at the requested sample rate.
type Decoder interface {
	Decode(ctx context.Context, path string, sampleRate int) (*Clip, error)
}

type ffmpeg struct {
	ffmpegCmd string
}

// NewFfmpegDecoder returns a Decoder backed by the ffmpeg binary.
func NewFfmpegDecoder() Decoder {
	return ffmpeg{ffmpegCmd: "ffmpeg"}
}

// Decode shells out to ffmpeg to downmix and resample, then parses the
// resulting WAV. A temp file is used because WAV on a pipe carries no size.
func (ff ffmpeg) Decode(ctx context.Context, path string, sampleRate int) (*Clip, error) {
	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	tmp, err := os.CreateTemp("", "voiceforge-decode-*.wav")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx, cmdPath, ff.decodeArgs(path, tmpPath, sampleRate)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		log.Debug("ffmpeg decode failed for %s: %s", path, string(output))
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	return ReadWAV(tmpPath)
}

func (ff ffmpeg) decodeArgs(input, output string, sampleRate int) []string {
	return []string{
		"-y",
		"-v", "error",
		"-i", input,
		"-ac", "1", // downmix to mono
		"-ar", strconv.Itoa(sampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		output,
	}
}
