package metadata

import (
	"os"
	"path/filepath"

	"github.com/MimeLyc/voice-forge/pkg/file"
)

// AuditReport summarizes a consistency scan of one profile's metadata log
// against its audio namespaces. Every entry must resolve to a file in at
// least one of the raw or preprocessed directories.
type AuditReport struct {
	ProfileID    string   `json:"profile_id"`
	TotalEntries int      `json:"total_entries"`
	RawOnly      int      `json:"raw_only"`
	Preprocessed int      `json:"preprocessed"`
	Missing      []string `json:"missing"`
}

// Consistent reports whether every metadata entry resolves to a recording.
func (r AuditReport) Consistent() bool {
	return len(r.Missing) == 0
}

// Audit scans the metadata log of profileID under voicesDir and checks each
// referenced filename against both audio namespaces.
func Audit(voicesDir, profileID string) (AuditReport, error) {
	store := NewStore(voicesDir, profileID)
	rawDir := filepath.Join(voicesDir, profileID, "recordings")
	preDir := filepath.Join(rawDir, "preprocessed")

	report := AuditReport{ProfileID: profileID}
	err := store.ForEach(func(e Entry) error {
		report.TotalEntries++
		inPre := file.Exists(filepath.Join(preDir, e.Filename))
		inRaw := file.Exists(filepath.Join(rawDir, e.Filename))
		switch {
		case inPre:
			report.Preprocessed++
		case inRaw:
			report.RawOnly++
		default:
			report.Missing = append(report.Missing, e.Filename)
		}
		return nil
	})
	if err != nil {
		return AuditReport{}, err
	}
	return report, nil
}

// ListProfiles returns the profile directories under voicesDir that carry a
// metadata log.
func ListProfiles(voicesDir string) ([]string, error) {
	entries, err := os.ReadDir(voicesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ret := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if file.Exists(filepath.Join(voicesDir, entry.Name(), "metadata.jsonl")) {
			ret = append(ret, entry.Name())
		}
	}
	return ret, nil
}
