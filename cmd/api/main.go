package main

import (
	"net/http"

	"mangaflow/internal/api"
	"mangaflow/internal/config"
	"mangaflow/internal/logging"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	log := logging.New()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("load config", "error", err)
	}

	h := api.NewServer(cfg)
	log.Infow("mangaflow api listening", "addr", cfg.APIAddr)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatalw("api stopped", "error", err)
	}
}
