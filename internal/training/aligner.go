package training

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/voice-forge/pkg/log"
)

// Aligner produces phoneme alignments for an assembled dataset. The
// preferred path shells out to Montreal Forced Aligner; when mfa is
// missing or fails the basic grapheme fallback keeps the job alive.
type Aligner struct {
	cmd string
}

func NewAligner(cmd string) *Aligner {
	if cmd == "" {
		cmd = "mfa"
	}
	return &Aligner{cmd: cmd}
}

// Align writes alignment output under datasetDir/aligned and reports the
// mode that actually ran. Requesting basic skips mfa entirely.
func (a *Aligner) Align(ctx context.Context, datasetDir, languageCode string, requested AlignmentMode) (AlignmentMode, error) {
	outDir := filepath.Join(datasetDir, "aligned")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", &AlignmentFailureError{Mode: requested, Cause: err}
	}

	if requested == AlignMFA {
		if err := a.runMFA(ctx, datasetDir, outDir, languageCode); err == nil {
			return AlignMFA, nil
		} else if ctx.Err() != nil {
			return "", ctx.Err()
		} else {
			log.Warn("mfa alignment unavailable, using basic phonemes: %v", err)
		}
	}

	if err := a.basicAlign(datasetDir, outDir); err != nil {
		return "", &AlignmentFailureError{Mode: AlignBasic, Cause: err}
	}
	return AlignBasic, nil
}

func (a *Aligner) runMFA(ctx context.Context, datasetDir, outDir, languageCode string) error {
	binary, err := exec.LookPath(a.cmd)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", a.cmd)
	}

	model := mfaModelName(languageCode)
	cmd := exec.CommandContext(ctx, binary,
		"align",
		"--clean",
		datasetDir,
		model,
		model,
		outDir,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mfa align: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// mfaModelName maps a BCP 47 code to the mfa dictionary/model name, e.g.
// "en-US" -> "english_us_mfa".
func mfaModelName(languageCode string) string {
	switch strings.ToLower(languageCode) {
	case "en-us":
		return "english_us_mfa"
	case "en-gb":
		return "english_uk_mfa"
	case "sv-se":
		return "swedish_mfa"
	default:
		return strings.ToLower(strings.ReplaceAll(languageCode, "-", "_")) + "_mfa"
	}
}

// basicAlign emits one space-separated grapheme sequence per utterance.
// Crude but always available; trained quality suffers accordingly.
func (a *Aligner) basicAlign(datasetDir, outDir string) error {
	out, err := os.Create(filepath.Join(outDir, "phonemes.csv"))
	if err != nil {
		return err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	w.Comma = '|'

	wrote := 0
	for _, split := range []string{"train.csv", "validation.csv"} {
		f, err := os.Open(filepath.Join(datasetDir, split))
		if err != nil {
			return err
		}
		reader := csv.NewReader(f)
		reader.Comma = '|'
		rows, err := reader.ReadAll()
		_ = f.Close()
		if err != nil {
			return err
		}
		for _, row := range rows {
			if len(row) < 2 {
				continue
			}
			if err := w.Write([]string{row[0], graphemes(row[1])}); err != nil {
				return err
			}
			wrote++
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if wrote == 0 {
		return fmt.Errorf("no utterances to align")
	}
	return nil
}

func graphemes(text string) string {
	runes := []rune(strings.ToLower(strings.TrimSpace(text)))
	parts := make([]string, 0, len(runes))
	for _, r := range runes {
		if r == ' ' {
			parts = append(parts, "_")
			continue
		}
		parts = append(parts, string(r))
	}
	return strings.Join(parts, " ")
}
