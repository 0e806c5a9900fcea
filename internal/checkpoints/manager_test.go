package checkpoints

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCheckpoint is a payload that passes the structural checks.
var fakeCheckpoint = append([]byte{'P', 'K', 0x03, 0x04}, []byte("not a real archive body")...)

func testCatalog(url, configURL string) *Catalog {
	return NewCatalog(CatalogEntry{
		LanguageCode: "en-US",
		VoiceID:      "amy",
		DisplayName:  "Amy",
		Gender:       "Female",
		Quality:      "High",
		PhonemeSet:   "en-us-mfa",
		SampleRate:   22050,
		Download:     AutomaticDownload{URL: url, ConfigURL: configURL},
	})
}

func TestDownload_ConcurrentCallersShareOneTransfer(t *testing.T) {
	var transfers atomic.Int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transfers.Add(1)
		<-release
		_, _ = w.Write(fakeCheckpoint)
	}))
	defer server.Close()

	mgr, err := NewManager(t.TempDir(),
		WithCatalog(testCatalog(server.URL, "")),
		WithMinSizeBytes(4))
	require.NoError(t, err)

	const callers = 8
	var started atomic.Int64
	var wg sync.WaitGroup
	results := make([]CachedCheckpoint, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Add(1)
			results[i], errs[i] = mgr.Download(context.Background(), "en-US", "amy")
		}(i)
	}

	require.Eventually(t, func() bool { return started.Load() == callers },
		time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// Callers that miss the shared flight hit the now-valid cache, so the
	// server still sees exactly one transfer.
	assert.Equal(t, int64(1), transfers.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].LocalPath, results[i].LocalPath)
		assert.True(t, results[i].Validated)
	}
}

func TestDownload_CachedCopyWins(t *testing.T) {
	var transfers atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transfers.Add(1)
		_, _ = w.Write(fakeCheckpoint)
	}))
	defer server.Close()

	mgr, err := NewManager(t.TempDir(),
		WithCatalog(testCatalog(server.URL, "")),
		WithMinSizeBytes(4))
	require.NoError(t, err)

	_, err = mgr.Download(context.Background(), "en-US", "amy")
	require.NoError(t, err)
	_, err = mgr.Download(context.Background(), "en-US", "amy")
	require.NoError(t, err)
	assert.Equal(t, int64(1), transfers.Load())
}

func TestDownload_ManualOnlyModel(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), WithMinSizeBytes(4))
	require.NoError(t, err)

	_, err = mgr.Download(context.Background(), "sv-SE", "nst")

	var manual *ManualDownloadRequiredError
	require.ErrorAs(t, err, &manual)
	assert.Equal(t, "sv-SE.nst", manual.Key)
	assert.Equal(t, "https://huggingface.co/KBLab/piper-tts-nst-swedish", manual.URL)
	assert.Contains(t, manual.Instructions, "model.ckpt")
}

func TestDownload_InvalidPayloadEvicted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not a checkpoint</html>"))
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	mgr, err := NewManager(cacheDir,
		WithCatalog(testCatalog(server.URL, "")),
		WithMinSizeBytes(4))
	require.NoError(t, err)

	_, err = mgr.Download(context.Background(), "en-US", "amy")
	var downloadErr *DownloadError
	require.ErrorAs(t, err, &downloadErr)

	_, err = mgr.Get("en-US", "amy")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, filepath.Join(cacheDir, "en-US", "amy", modelFileName))
}

func TestDownload_ServerErrorIsDownloadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	mgr, err := NewManager(t.TempDir(),
		WithCatalog(testCatalog(server.URL, "")),
		WithMinSizeBytes(4))
	require.NoError(t, err)

	_, err = mgr.Download(context.Background(), "en-US", "amy")
	var downloadErr *DownloadError
	require.ErrorAs(t, err, &downloadErr)
	assert.Equal(t, "en-US.amy", downloadErr.Key)
}

func TestDownload_UnknownKey(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = mgr.Download(context.Background(), "fr-FR", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_DetectsManuallyPlacedCheckpoint(t *testing.T) {
	cacheDir := t.TempDir()
	mgr, err := NewManager(cacheDir, WithMinSizeBytes(4))
	require.NoError(t, err)

	dir := filepath.Join(cacheDir, "sv-SE", "nst")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, modelFileName), fakeCheckpoint, 0o644))

	cached, err := mgr.Get("sv-SE", "nst")
	require.NoError(t, err)
	assert.True(t, cached.Validated)
	assert.Equal(t, int64(len(fakeCheckpoint)), cached.SizeBytes)
}

func TestEvictAndInfo(t *testing.T) {
	cacheDir := t.TempDir()
	mgr, err := NewManager(cacheDir, WithMinSizeBytes(4))
	require.NoError(t, err)

	for _, key := range [][2]string{{"en-US", "amy"}, {"sv-SE", "nst"}} {
		dir := filepath.Join(cacheDir, key[0], key[1])
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, modelFileName), fakeCheckpoint, 0o644))
	}

	info, err := mgr.Info()
	require.NoError(t, err)
	assert.Equal(t, 2, info.Count)
	assert.Equal(t, int64(2*len(fakeCheckpoint)), info.TotalSizeBytes)
	assert.NotEmpty(t, info.TotalSizeHuman)

	require.NoError(t, mgr.Evict("en-US", "amy"))
	info, err = mgr.Info()
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)

	_, err = mgr.Get("en-US", "amy")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidate_RejectsUnreadableFile(t *testing.T) {
	cacheDir := t.TempDir()
	mgr, err := NewManager(cacheDir, WithMinSizeBytes(4))
	require.NoError(t, err)

	dir := filepath.Join(cacheDir, "en-US", "amy")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, modelFileName)
	require.NoError(t, os.WriteFile(path, []byte("junk body"), 0o644))
	require.NoError(t, os.Chmod(path, 0o000))
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

	assert.False(t, mgr.Validate(CachedCheckpoint{LocalPath: path}),
		"a checkpoint that cannot be read back is not usable")
}

func TestValidate_RejectsUndersizedFile(t *testing.T) {
	cacheDir := t.TempDir()
	mgr, err := NewManager(cacheDir, WithMinSizeBytes(1<<20))
	require.NoError(t, err)

	dir := filepath.Join(cacheDir, "en-US", "amy")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, modelFileName), fakeCheckpoint, 0o644))

	cached, err := mgr.Get("en-US", "amy")
	require.NoError(t, err)
	assert.False(t, cached.Validated)
}
