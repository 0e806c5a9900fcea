package dataset

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/MimeLyc/voice-forge/internal/metadata"
	"github.com/MimeLyc/voice-forge/internal/promptlist"
	"github.com/MimeLyc/voice-forge/pkg/log"
)

// AudioSource selects which audio namespace backs the manifest.
type AudioSource string

const (
	SourceRaw          AudioSource = "raw"
	SourcePreprocessed AudioSource = "preprocessed"
)

// minViableEntries is the smallest filtered set that can still be split.
const minViableEntries = 2

// InsufficientDataError means the filtered set is too small to train on.
type InsufficientDataError struct {
	Found   int
	Minimum int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d usable entries, need at least %d", e.Found, e.Minimum)
}

// Entry pairs a resolved audio path with its metadata. Two recordings with
// colliding per-list indices stay distinguishable through the
// (prompt_list, prompt_index) composite carried in the metadata.
type Entry struct {
	AudioPath string         `json:"audio_path"`
	Metadata  metadata.Entry `json:"metadata"`
}

// Manifest is the resolved, filtered, split input to one training run.
type Manifest struct {
	ProfileID   string      `json:"profile_id"`
	Source      AudioSource `json:"source"`
	PromptLists []string    `json:"prompt_lists"`

	Train      []Entry `json:"train"`
	Validation []Entry `json:"validation"`

	// Dropped lists filenames referenced by metadata but absent from the
	// selected namespace. They are warnings, not failures.
	Dropped []string `json:"dropped,omitempty"`
}

// Size returns the number of usable entries across both splits.
func (m *Manifest) Size() int {
	return len(m.Train) + len(m.Validation)
}

// Request describes one assembly run.
type Request struct {
	ProfileID     string
	PromptListIDs []string
	Source        AudioSource
	SplitRatio    float64
	// Seed disambiguates runs; the shuffle is seeded by ProfileID+Seed so
	// the same job always produces the same split.
	Seed string
}

// Assembler builds dataset manifests from the metadata log and the audio
// namespaces under voicesDir.
type Assembler struct {
	voicesDir string
}

func NewAssembler(voicesDir string) *Assembler {
	return &Assembler{voicesDir: voicesDir}
}

// Assemble streams the metadata log once and keeps entries whose prompt
// list was requested and whose audio file exists in the selected namespace.
func (a *Assembler) Assemble(req Request) (*Manifest, error) {
	if req.ProfileID == "" {
		return nil, fmt.Errorf("profile id is required")
	}
	if len(req.PromptListIDs) == 0 {
		return nil, fmt.Errorf("at least one prompt list is required")
	}
	if req.SplitRatio <= 0 || req.SplitRatio >= 1 {
		return nil, fmt.Errorf("split ratio must be in (0, 1), got %v", req.SplitRatio)
	}

	names := promptlist.ResolveNames(req.ProfileID, req.PromptListIDs)
	selected := make(map[string]struct{}, len(names))
	for _, name := range names {
		selected[name] = struct{}{}
	}

	audioDir := a.audioDir(req.ProfileID, req.Source)
	store := metadata.NewStore(a.voicesDir, req.ProfileID)

	manifest := &Manifest{
		ProfileID:   req.ProfileID,
		Source:      req.Source,
		PromptLists: names,
	}

	entries := make([]Entry, 0)
	err := store.ForEach(func(e metadata.Entry) error {
		if _, ok := selected[e.PromptList]; !ok {
			return nil
		}
		audioPath := filepath.Join(audioDir, e.Filename)
		if info, err := os.Stat(audioPath); err != nil || info.IsDir() {
			log.Warn("Dropping %s: not found in %s namespace", e.Filename, req.Source)
			manifest.Dropped = append(manifest.Dropped, e.Filename)
			return nil
		}
		entries = append(entries, Entry{AudioPath: audioPath, Metadata: e})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(entries) < minViableEntries {
		return nil, &InsufficientDataError{Found: len(entries), Minimum: minViableEntries}
	}

	shuffleDeterministic(entries, req.ProfileID+"|"+req.Seed)

	// Contiguous split; both sides always get at least one entry.
	cut := int(float64(len(entries)) * req.SplitRatio)
	if cut < 1 {
		cut = 1
	}
	if cut >= len(entries) {
		cut = len(entries) - 1
	}
	manifest.Train = entries[:cut]
	manifest.Validation = entries[cut:]

	log.Info("Assembled dataset for %s: %d train, %d validation, %d dropped",
		req.ProfileID, len(manifest.Train), len(manifest.Validation), len(manifest.Dropped))
	return manifest, nil
}

func (a *Assembler) audioDir(profileID string, source AudioSource) string {
	base := filepath.Join(a.voicesDir, profileID, "recordings")
	if source == SourcePreprocessed {
		return filepath.Join(base, "preprocessed")
	}
	return base
}

// shuffleDeterministic permutes entries with a seed derived from the key so
// the same job always sees the same order.
func shuffleDeterministic(entries []Entry, key string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}
