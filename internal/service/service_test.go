package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/voice-forge/internal/config"
	"github.com/MimeLyc/voice-forge/internal/metadata"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg, err := config.NewFromEnv(func(c *config.Config) {
		c.Storage.VoicesDir = filepath.Join(root, "voices")
		c.Storage.CheckpointsDir = filepath.Join(root, "checkpoints")
		c.Storage.TrainingOutputDir = filepath.Join(root, "training_output")
		c.Storage.DBPath = filepath.Join(root, "data", "voiceforge.db")
		c.HTTP.Addr = "127.0.0.1:0"
	})
	require.NoError(t, err)
	return *cfg
}

func TestService_RunAndShutdown(t *testing.T) {
	svc, err := New(testConfig(t), cron.New(cron.WithSeconds()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not shut down")
	}
}

func TestService_AuditLogsInconsistencies(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, cron.New(cron.WithSeconds()))
	require.NoError(t, err)
	defer svc.shutdown()

	store := metadata.NewStore(cfg.Storage.VoicesDir, "sven")
	require.NoError(t, store.Append(metadata.Entry{
		Filename: "ghost.wav", Sentence: "hello", PromptList: "sv-SE_General",
	}))

	// Must not panic or error on a profile with dangling metadata.
	svc.runAudit()
}
