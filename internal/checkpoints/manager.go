package checkpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MimeLyc/voice-forge/pkg/file"
	"github.com/MimeLyc/voice-forge/pkg/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned for unknown catalog keys and cache misses.
var ErrNotFound = errors.New("checkpoint not found")

// ManualDownloadRequiredError signals that the model needs an out-of-band
// download. It is a distinct, actionable result, not a failure.
type ManualDownloadRequiredError struct {
	Key          string
	URL          string
	Instructions string
}

func (e *ManualDownloadRequiredError) Error() string {
	return fmt.Sprintf("checkpoint %s requires manual download from %s", e.Key, e.URL)
}

// DownloadError wraps a network or IO failure of an automatic download.
// Unlike ManualDownloadRequiredError, retrying may succeed.
type DownloadError struct {
	Key   string
	Cause error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download checkpoint %s: %v", e.Key, e.Cause)
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// CachedCheckpoint describes one locally present base model.
type CachedCheckpoint struct {
	LanguageCode string `json:"language_code"`
	VoiceID      string `json:"voice_id"`
	LocalPath    string `json:"local_path"`
	ConfigPath   string `json:"config_path,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
	Validated    bool   `json:"validated"`
}

// CacheInfo summarizes the local cache for eviction decisions.
type CacheInfo struct {
	Dir            string             `json:"dir"`
	Count          int                `json:"count"`
	TotalSizeBytes int64              `json:"total_size_bytes"`
	TotalSizeHuman string             `json:"total_size_human"`
	Entries        []CachedCheckpoint `json:"entries"`
}

const (
	modelFileName    = "model.ckpt"
	configFileName   = "config.json"
	metadataFileName = "metadata.json"

	// defaultMinSizeBytes rejects obviously truncated checkpoint files.
	defaultMinSizeBytes = 1 << 20

	downloadTimeout = 30 * time.Minute
)

// zipMagic is the header of a zip archive; trained checkpoint files are
// zip containers, so a different header means a junk download.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// Manager owns the checkpoint cache under cacheDir. Downloads for the same
// key are collapsed through singleflight so at most one transfer per key is
// ever in flight.
type Manager struct {
	cacheDir     string
	catalog      *Catalog
	client       *http.Client
	minSizeBytes int64

	group singleflight.Group
}

type ManagerOption func(*Manager)

func WithCatalog(catalog *Catalog) ManagerOption {
	return func(m *Manager) {
		m.catalog = catalog
	}
}

func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		m.client = client
	}
}

// WithMinSizeBytes lowers or raises the structural size threshold.
func WithMinSizeBytes(n int64) ManagerOption {
	return func(m *Manager) {
		m.minSizeBytes = n
	}
}

func NewManager(cacheDir string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		cacheDir:     cacheDir,
		client:       &http.Client{Timeout: downloadTimeout},
		minSizeBytes: defaultMinSizeBytes,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.catalog == nil {
		catalog, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		m.catalog = catalog
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint cache: %w", err)
	}
	return m, nil
}

func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

func (m *Manager) entryDir(languageCode, voiceID string) string {
	return filepath.Join(m.cacheDir, languageCode, voiceID)
}

// Get returns the cached checkpoint for the key, whether downloaded or
// manually placed. ErrNotFound when nothing is on disk.
func (m *Manager) Get(languageCode, voiceID string) (CachedCheckpoint, error) {
	dir := m.entryDir(languageCode, voiceID)
	modelPath := filepath.Join(dir, modelFileName)
	info, err := os.Stat(modelPath)
	if err != nil || info.IsDir() {
		return CachedCheckpoint{}, fmt.Errorf("%s.%s: %w", languageCode, voiceID, ErrNotFound)
	}

	cached := CachedCheckpoint{
		LanguageCode: languageCode,
		VoiceID:      voiceID,
		LocalPath:    modelPath,
		SizeBytes:    info.Size(),
	}
	if configPath := filepath.Join(dir, configFileName); file.Exists(configPath) {
		cached.ConfigPath = configPath
	}
	cached.Validated = m.Validate(cached)
	return cached, nil
}

// Download fetches the checkpoint for (languageCode, voiceID), or returns
// the cached copy. Concurrent callers for the same key share one transfer
// and observe the same result.
func (m *Manager) Download(ctx context.Context, languageCode, voiceID string) (CachedCheckpoint, error) {
	entry, ok := m.catalog.Lookup(languageCode, voiceID)
	if !ok {
		return CachedCheckpoint{}, fmt.Errorf("%s.%s: %w", languageCode, voiceID, ErrNotFound)
	}

	result, err, _ := m.group.Do(entry.Key(), func() (interface{}, error) {
		return m.downloadLocked(ctx, entry)
	})
	if err != nil {
		return CachedCheckpoint{}, err
	}
	return result.(CachedCheckpoint), nil
}

func (m *Manager) downloadLocked(ctx context.Context, entry CatalogEntry) (CachedCheckpoint, error) {
	// Valid cached copy wins; a failed validation evicts and re-downloads.
	if cached, err := m.Get(entry.LanguageCode, entry.VoiceID); err == nil {
		if cached.Validated {
			return cached, nil
		}
		log.Warn("Cached checkpoint %s failed validation, evicting", entry.Key())
		if err := m.Evict(entry.LanguageCode, entry.VoiceID); err != nil {
			return CachedCheckpoint{}, err
		}
	}

	var auto AutomaticDownload
	switch src := entry.Download.(type) {
	case AutomaticDownload:
		auto = src
	case ManualDownload:
		return CachedCheckpoint{}, &ManualDownloadRequiredError{
			Key:          entry.Key(),
			URL:          src.URL,
			Instructions: src.Instructions,
		}
	default:
		return CachedCheckpoint{}, fmt.Errorf("checkpoint %s has no download source", entry.Key())
	}

	dir := m.entryDir(entry.LanguageCode, entry.VoiceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CachedCheckpoint{}, &DownloadError{Key: entry.Key(), Cause: err}
	}

	modelPath := filepath.Join(dir, modelFileName)
	if err := m.fetchFile(ctx, auto.URL, modelPath); err != nil {
		return CachedCheckpoint{}, &DownloadError{Key: entry.Key(), Cause: err}
	}

	if auto.ConfigURL != "" {
		// Config is best effort; the checkpoint alone is usable.
		if err := m.fetchFile(ctx, auto.ConfigURL, filepath.Join(dir, configFileName)); err != nil {
			log.Warn("Config download failed for %s: %v", entry.Key(), err)
		}
	}

	cached, err := m.Get(entry.LanguageCode, entry.VoiceID)
	if err != nil {
		return CachedCheckpoint{}, &DownloadError{Key: entry.Key(), Cause: err}
	}
	if !cached.Validated {
		_ = m.Evict(entry.LanguageCode, entry.VoiceID)
		return CachedCheckpoint{}, &DownloadError{
			Key:   entry.Key(),
			Cause: fmt.Errorf("downloaded file failed validation"),
		}
	}

	m.writeMetadata(dir, entry, cached)
	log.Info("Checkpoint %s downloaded (%s)", entry.Key(), humanize.Bytes(uint64(cached.SizeBytes)))
	return cached, nil
}

// fetchFile downloads url into path via a temp file and rename, so a
// partial transfer never looks like a finished checkpoint.
func (m *Manager) fetchFile(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// Validate checks the file size threshold and the archive header. A file
// that cannot be read back is not a usable checkpoint.
func (m *Manager) Validate(cached CachedCheckpoint) bool {
	info, err := os.Stat(cached.LocalPath)
	if err != nil || info.Size() < m.minSizeBytes {
		return false
	}

	f, err := os.Open(cached.LocalPath)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header, zipMagic)
}

// Evict removes the cached files for a key. Eviction is always explicit,
// never background work.
func (m *Manager) Evict(languageCode, voiceID string) error {
	dir := m.entryDir(languageCode, voiceID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("evict checkpoint %s.%s: %w", languageCode, voiceID, err)
	}
	return nil
}

// Info walks the cache and reports per-entry and total sizes.
func (m *Manager) Info() (CacheInfo, error) {
	info := CacheInfo{Dir: m.cacheDir}

	langs, err := os.ReadDir(m.cacheDir)
	if err != nil {
		return CacheInfo{}, err
	}
	for _, lang := range langs {
		if !lang.IsDir() {
			continue
		}
		voices, err := os.ReadDir(filepath.Join(m.cacheDir, lang.Name()))
		if err != nil {
			continue
		}
		for _, voice := range voices {
			if !voice.IsDir() {
				continue
			}
			cached, err := m.Get(lang.Name(), voice.Name())
			if err != nil {
				continue
			}
			info.Count++
			info.TotalSizeBytes += cached.SizeBytes
			info.Entries = append(info.Entries, cached)
		}
	}
	info.TotalSizeHuman = humanize.Bytes(uint64(info.TotalSizeBytes))
	return info, nil
}

func (m *Manager) writeMetadata(dir string, entry CatalogEntry, cached CachedCheckpoint) {
	meta := map[string]any{
		"language_code": entry.LanguageCode,
		"voice_id":      entry.VoiceID,
		"display_name":  entry.DisplayName,
		"phoneme_type":  entry.PhonemeSet,
		"sample_rate":   entry.SampleRate,
		"size_bytes":    cached.SizeBytes,
		"downloaded_at": time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFileName), payload, 0o644); err != nil {
		log.Warn("Failed to write checkpoint metadata for %s: %v", entry.Key(), err)
	}
}
