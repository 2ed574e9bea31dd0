package main

import (
	"context"
	"time"

	"mangaflow/internal/activities"
	"mangaflow/internal/config"
	"mangaflow/internal/logging"
	"mangaflow/internal/storage"
	"mangaflow/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	log := logging.New()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("load config", "error", err)
	}

	c, err := client.Dial(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   logging.NewTemporalAdapter(log),
	})
	if err != nil {
		log.Fatalw("dial temporal", "error", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalw("connect postgres", "error", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalw("bootstrap db schema", "error", err)
	}

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	a, err := activities.New(cfg, db, log)
	if err != nil {
		log.Fatalw("build activities", "error", err)
	}
	activities.Register(w, a)

	log.Infow("mangaflow worker starting",
		"temporal", cfg.TemporalAddress,
		"queue", cfg.TemporalTaskQueue,
		"text_providers", cfg.TextProviders,
		"vision_providers", cfg.VisionProviders,
	)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalw("worker stopped", "error", err)
	}
}
