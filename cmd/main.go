package main

import (
	"context"
	stdlog "log"

	"github.com/MimeLyc/voice-forge/internal/config"
	"github.com/MimeLyc/voice-forge/internal/service"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

func main() {
	// Optional .env file for local development.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		stdlog.Fatal("Failed to load configuration:", err)
	}

	svc, err := service.New(*cfg, cron.New(cron.WithSeconds()))
	if err != nil {
		stdlog.Fatal("Failed to initialize service:", err)
	}

	if err := svc.Run(context.Background()); err != nil {
		stdlog.Fatal(err)
	}
}
