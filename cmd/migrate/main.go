package main

import (
	"flag"
	"log"

	"retail-service/config"
	"retail-service/internal/store"
	"retail-service/internal/util"

	"go.uber.org/zap"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	switch *direction {
	case "up":
		err = db.Migrate(logger)
	case "down":
		err = db.MigrateDown(logger)
	default:
		logger.Fatal("Unknown migration direction", zap.String("direction", *direction))
	}
	if err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}
}
