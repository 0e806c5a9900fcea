package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/MimeLyc/voice-forge/pkg/icron"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// Storage:
// - VOICES_DIR: root of voice profiles (default: ./voices)
// - CHECKPOINTS_DIR: base model cache directory (default: ./checkpoints)
// - TRAINING_OUTPUT_DIR: per-job output root (default: ./training_output)
// - DB_PATH: sqlite database path (default: ./data/voiceforge.db)
//
// HTTP:
// - HTTP_ADDR: listen address (default: :8022)
//
// Training:
// - GPU_AVAILABLE: whether a CUDA device is present (default: false)
// - GPU_LOCK_TIMEOUT: how long a job waits for the GPU before falling
//   back to CPU (default: 30s)
// - TRAINING_WORKERS: concurrent training job limit (default: 2)
// - TRAINER_CMD: external training command (default: piper-train)
// - ALIGNER_CMD: forced aligner command (default: mfa)
//
// Audio transform defaults:
// - TRANSFORM_TARGET_DBFS (default: -1.0)
// - TRANSFORM_SILENCE_THRESHOLD_DB (default: -40.0)
// - TRANSFORM_PADDING_MS (default: 200)
// - TRANSFORM_SAMPLE_RATE (default: 22050)
//
// Maintenance:
// - AUDIT_CRON_EXPR: metadata/audio consistency audit schedule (default: 0 0 3 * * *)

type Config struct {
	Storage  StorageConfig  `json:"storage"`
	HTTP     HTTPConfig     `json:"http"`
	Training TrainingConfig `json:"training"`
	Audio    AudioConfig    `json:"audio"`
	Audit    AuditConfig    `json:"audit"`
}

type StorageConfig struct {
	VoicesDir         string `json:"voices_dir"`
	CheckpointsDir    string `json:"checkpoints_dir"`
	TrainingOutputDir string `json:"training_output_dir"`
	DBPath            string `json:"db_path"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

// TrainingConfig holds GPU arbitration and worker pool settings.
type TrainingConfig struct {
	GPUAvailable   bool          `json:"gpu_available"`
	GPULockTimeout time.Duration `json:"gpu_lock_timeout"`
	Workers        int           `json:"workers"`
	TrainerCmd     string        `json:"trainer_cmd"`
	AlignerCmd     string        `json:"aligner_cmd"`
}

// AudioConfig holds the default transform chain parameters.
type AudioConfig struct {
	TargetDBFS         float64 `json:"target_dbfs"`
	SilenceThresholdDB float64 `json:"silence_threshold_db"`
	PaddingMs          int     `json:"padding_ms"`
	TargetSampleRate   int     `json:"target_sample_rate"`
}

type AuditConfig struct {
	CronExpr string `json:"cron_expr"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Storage: StorageConfig{
			VoicesDir:         getEnvString("VOICES_DIR", "./voices"),
			CheckpointsDir:    getEnvString("CHECKPOINTS_DIR", "./checkpoints"),
			TrainingOutputDir: getEnvString("TRAINING_OUTPUT_DIR", "./training_output"),
			DBPath:            getEnvString("DB_PATH", "./data/voiceforge.db"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8022"),
		},
		Training: TrainingConfig{
			GPUAvailable:   getEnvBool("GPU_AVAILABLE", false),
			GPULockTimeout: getEnvDuration("GPU_LOCK_TIMEOUT", 30*time.Second),
			Workers:        getEnvInt("TRAINING_WORKERS", 2),
			TrainerCmd:     getEnvString("TRAINER_CMD", "piper-train"),
			AlignerCmd:     getEnvString("ALIGNER_CMD", "mfa"),
		},
		Audio: AudioConfig{
			TargetDBFS:         getEnvFloat("TRANSFORM_TARGET_DBFS", -1.0),
			SilenceThresholdDB: getEnvFloat("TRANSFORM_SILENCE_THRESHOLD_DB", -40.0),
			PaddingMs:          getEnvInt("TRANSFORM_PADDING_MS", 200),
			TargetSampleRate:   getEnvInt("TRANSFORM_SAMPLE_RATE", 22050),
		},
		Audit: AuditConfig{
			CronExpr: getEnvString("AUDIT_CRON_EXPR", "0 0 3 * * *"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Storage.VoicesDir == "" {
		return fmt.Errorf("VOICES_DIR is required")
	}
	if c.Training.Workers <= 0 {
		return fmt.Errorf("TRAINING_WORKERS must be positive")
	}
	if c.Training.GPULockTimeout <= 0 {
		return fmt.Errorf("GPU_LOCK_TIMEOUT must be positive")
	}
	if c.Audio.TargetSampleRate <= 0 {
		return fmt.Errorf("TRANSFORM_SAMPLE_RATE must be positive")
	}
	if c.Audio.PaddingMs < 0 {
		return fmt.Errorf("TRANSFORM_PADDING_MS must be non-negative")
	}
	if err := icron.Validate(c.Audit.CronExpr); err != nil {
		return fmt.Errorf("AUDIT_CRON_EXPR: %w", err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
