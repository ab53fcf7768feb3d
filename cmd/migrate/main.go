// Command migrate applies or rolls back the Postgres schema.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"

	"veriface/internal/platform/config"
	"veriface/internal/platform/logger"
	"veriface/internal/platform/postgres"
)

func main() {
	direction := flag.String("direction", string(postgres.Up), "migration direction: up or down")
	flag.Parse()

	var logCfg config.LogConfig
	var pgCfg config.PostgresConfig
	if err := env.Parse(&logCfg); err != nil {
		slog.Error("parse log config", "error", err)
		os.Exit(1)
	}
	log := logger.New(logCfg)
	if err := env.Parse(&pgCfg); err != nil {
		log.Error("parse database config", "error", err)
		os.Exit(1)
	}

	if err := postgres.Migrate(pgCfg.DSN, postgres.Direction(*direction)); err != nil {
		log.Error("migration failed", "direction", *direction, "error", err)
		os.Exit(1)
	}
	log.Info("migration complete", "direction", *direction)
}
