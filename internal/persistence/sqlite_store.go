package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MimeLyc/voice-forge/internal/dataset"
	"github.com/MimeLyc/voice-forge/internal/training"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore persists training jobs and their progress logs. It backs
// the registry's Store interface so jobs survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*training.TrainingJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, profile_id, prompt_lists_json, audio_source, language_code, base_voice,
		        epochs, batch_size, learning_rate, validation_pct, use_gpu, mixed_precision,
		        alignment_mode, state, error, current_epoch, last_loss, used_gpu,
		        alignment_used, output_dir, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*training.TrainingJob, 0)
	for rows.Next() {
		var item training.TrainingJob
		var promptListsJSON, audioSource, alignmentMode, state, alignmentUsed string
		var useGPU, mixedPrecision, usedGPU int
		if err := rows.Scan(
			&item.ID,
			&item.Config.ProfileID,
			&promptListsJSON,
			&audioSource,
			&item.Config.LanguageCode,
			&item.Config.BaseVoice,
			&item.Config.Epochs,
			&item.Config.BatchSize,
			&item.Config.LearningRate,
			&item.Config.ValidationPct,
			&useGPU,
			&mixedPrecision,
			&alignmentMode,
			&state,
			&item.Error,
			&item.CurrentEpoch,
			&item.LastLoss,
			&usedGPU,
			&alignmentUsed,
			&item.OutputDir,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(promptListsJSON), &item.Config.PromptListIDs); err != nil {
			return nil, fmt.Errorf("decode prompt lists for job %s: %w", item.ID, err)
		}
		item.Config.AudioSource = dataset.AudioSource(audioSource)
		item.Config.AlignmentMode = training.AlignmentMode(alignmentMode)
		item.Config.UseGPU = useGPU == 1
		item.Config.MixedPrec = mixedPrecision == 1
		item.State = training.State(state)
		item.UsedGPU = usedGPU == 1
		item.AlignmentUsed = training.AlignmentMode(alignmentUsed)
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *training.TrainingJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	promptListsJSON, err := json.Marshal(job.Config.PromptListIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, profile_id, prompt_lists_json, audio_source, language_code, base_voice,
			epochs, batch_size, learning_rate, validation_pct, use_gpu, mixed_precision,
			alignment_mode, state, error, current_epoch, last_loss, used_gpu,
			alignment_used, output_dir, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state=excluded.state,
			error=excluded.error,
			current_epoch=excluded.current_epoch,
			last_loss=excluded.last_loss,
			used_gpu=excluded.used_gpu,
			alignment_used=excluded.alignment_used,
			output_dir=excluded.output_dir,
			updated_at=excluded.updated_at`,
		job.ID,
		job.Config.ProfileID,
		string(promptListsJSON),
		string(job.Config.AudioSource),
		job.Config.LanguageCode,
		job.Config.BaseVoice,
		job.Config.Epochs,
		job.Config.BatchSize,
		job.Config.LearningRate,
		job.Config.ValidationPct,
		boolToInt(job.Config.UseGPU),
		boolToInt(job.Config.MixedPrec),
		string(job.Config.AlignmentMode),
		string(job.State),
		job.Error,
		job.CurrentEpoch,
		job.LastLoss,
		boolToInt(job.UsedGPU),
		string(job.AlignmentUsed),
		job.OutputDir,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) AppendProgress(ctx context.Context, record training.ProgressRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_progress (job_id, state, epoch, loss, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.JobID,
		string(record.State),
		record.Epoch,
		record.Loss,
		record.Message,
		record.Timestamp,
	)
	return err
}

func (s *SQLiteStore) LoadProgress(ctx context.Context, jobID string) ([]training.ProgressRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, state, epoch, loss, message, created_at
		 FROM job_progress
		 WHERE job_id = ?
		 ORDER BY seq ASC`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]training.ProgressRecord, 0)
	for rows.Next() {
		var item training.ProgressRecord
		var state string
		if err := rows.Scan(&item.JobID, &state, &item.Epoch, &item.Loss, &item.Message, &item.Timestamp); err != nil {
			return nil, err
		}
		item.State = training.State(state)
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

// DeleteJobData removes all auxiliary data for a job (its progress log).
func (s *SQLiteStore) DeleteJobData(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_progress WHERE job_id = ?`, jobID)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
