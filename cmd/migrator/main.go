package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/batch-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/batch-engine/internal/infra/postgresql/migrations"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	directionUp   = "up"
	directionDown = "down"
)

// settings is the subset of the service configuration the migrator needs.
type settings struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

const (
	exitCodeOK = iota
	exitCodeInputErr
	exitCodeInternalErr
)

func main() {
	direction := flag.String("direction", directionUp, "migration direction: up applies all, down rolls back the last one")
	flag.Parse()

	var cfg settings
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}

	exitCode, err := run(cfg.DatabaseDSN, logger, *direction)
	if err != nil {
		logger.Error("migration failed", zap.String("direction", *direction), zap.Error(err))
	} else {
		logger.Info("migrations applied", zap.String("direction", *direction))
	}

	_ = logger.Sync()
	os.Exit(exitCode)
}

func run(dsn string, logger *zap.Logger, direction string) (int, error) {
	if direction != directionUp && direction != directionDown {
		return exitCodeInputErr, fmt.Errorf("unknown direction %q", direction)
	}

	db, err := postgresql.NewPostgres(dsn, postgresql.PoolOptions{MaxOpenConns: 1, MaxIdleConns: 1}, logger)
	if err != nil {
		return exitCodeInternalErr, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := apply(db, direction); err != nil {
		return exitCodeInternalErr, err
	}
	return exitCodeOK, nil
}

func apply(db *gorm.DB, direction string) error {
	if direction == directionDown {
		return migrations.RollbackLast(db)
	}
	return migrations.Migrate(db)
}
