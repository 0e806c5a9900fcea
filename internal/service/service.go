package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MimeLyc/voice-forge/internal/audio"
	"github.com/MimeLyc/voice-forge/internal/checkpoints"
	"github.com/MimeLyc/voice-forge/internal/config"
	"github.com/MimeLyc/voice-forge/internal/dataset"
	"github.com/MimeLyc/voice-forge/internal/httpapi"
	"github.com/MimeLyc/voice-forge/internal/metadata"
	"github.com/MimeLyc/voice-forge/internal/persistence"
	"github.com/MimeLyc/voice-forge/internal/training"
	"github.com/MimeLyc/voice-forge/pkg/icron"
	"github.com/MimeLyc/voice-forge/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Service wires the whole pipeline together: persistence, the training
// registry, the checkpoint cache, the HTTP API and the scheduled audit.
type Service struct {
	cfg      config.Config
	cron     *cron.Cron
	store    *persistence.SQLiteStore
	registry *training.Registry
	server   *httpapi.Server
}

var auditGroup singleflight.Group

func New(cfg config.Config, c *cron.Cron) (*Service, error) {
	store, err := persistence.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	registry := training.NewRegistry(cfg.Training.Workers, store)

	ckpts, err := checkpoints.NewManager(cfg.Storage.CheckpointsDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	runner := training.NewRunner(
		registry,
		dataset.NewAssembler(cfg.Storage.VoicesDir),
		ckpts,
		training.NewAligner(cfg.Training.AlignerCmd),
		training.NewTrainer(cfg.Training.TrainerCmd),
		training.NewGPULock(cfg.Training.GPUAvailable, cfg.Training.GPULockTimeout),
		cfg.Storage.TrainingOutputDir,
	)
	registry.Start(runner.Run)

	transformer := audio.NewTransformer()
	server := httpapi.NewServer(
		registry,
		ckpts,
		httpapi.WithVoicesDir(cfg.Storage.VoicesDir),
		httpapi.WithPreprocessing(transformer, audio.TransformConfig{
			TargetDBFS:         cfg.Audio.TargetDBFS,
			SilenceThresholdDB: cfg.Audio.SilenceThresholdDB,
			PaddingMs:          cfg.Audio.PaddingMs,
			TargetSampleRate:   cfg.Audio.TargetSampleRate,
		}),
	)

	return &Service{
		cfg:      cfg,
		cron:     c,
		store:    store,
		registry: registry,
		server:   server,
	}, nil
}

// Run blocks until the context is done or a shutdown signal arrives.
func (s *Service) Run(ctx context.Context) error {
	if err := s.scheduleAudit(); err != nil {
		return err
	}
	s.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening on %s", s.cfg.HTTP.Addr)
		errCh <- s.server.ListenAndServe(s.cfg.HTTP.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case sig := <-sigCh:
		log.Info("Received %s, shutting down", sig)
	case <-ctx.Done():
	}

	s.shutdown()
	return nil
}

func (s *Service) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown: %v", err)
	}
	<-s.cron.Stop().Done()
	s.registry.Stop()
	if err := s.store.Close(); err != nil {
		log.Error("Close store: %v", err)
	}
}

// scheduleAudit registers the nightly metadata consistency scan. Overlapping
// runs collapse into one.
func (s *Service) scheduleAudit() error {
	expr := s.cfg.Audit.CronExpr
	runFunc := func() {
		_, _, _ = auditGroup.Do("audit", func() (any, error) {
			s.runAudit()
			return nil, nil
		})
	}
	if _, err := s.cron.AddFunc(expr, runFunc); err != nil {
		return err
	}

	if info, err := icron.GetTriggerInfo(expr, time.Now()); err == nil {
		log.Info("Metadata audit scheduled (%s), next run in %s", expr, info.TimeUntilNext.Round(time.Second))
	}
	return nil
}

func (s *Service) runAudit() {
	profiles, err := metadata.ListProfiles(s.cfg.Storage.VoicesDir)
	if err != nil {
		log.Error("Audit: list profiles: %v", err)
		return
	}
	for _, profileID := range profiles {
		report, err := metadata.Audit(s.cfg.Storage.VoicesDir, profileID)
		if err != nil {
			log.Error("Audit: profile %s: %v", profileID, err)
			continue
		}
		if report.Consistent() {
			log.Info("Audit: profile %s consistent (%d entries)", profileID, report.TotalEntries)
			continue
		}
		log.Warn("Audit: profile %s has %d metadata entries without audio: %v",
			profileID, len(report.Missing), report.Missing)
	}
}
