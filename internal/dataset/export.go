package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MimeLyc/voice-forge/pkg/file"
)

// WriteSplits writes train.csv and validation.csv into dir using the
// pipe-delimited id|text layout the training tools consume.
func (m *Manifest) WriteSplits(dir string) error {
	if err := file.EnsureDir(dir); err != nil {
		return fmt.Errorf("create dataset directory: %w", err)
	}
	if err := writeSplit(filepath.Join(dir, "train.csv"), m.Train); err != nil {
		return err
	}
	return writeSplit(filepath.Join(dir, "validation.csv"), m.Validation)
}

func writeSplit(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create split file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '|'
	for _, entry := range entries {
		id := file.BaseNoExt(entry.AudioPath)
		if err := w.Write([]string{id, entry.Metadata.Sentence}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
