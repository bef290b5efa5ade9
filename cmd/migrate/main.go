package main

import (
	"database/sql"
	"errors"
	"flag"

	"github.com/OFFIS-RIT/biorel/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/biorel/backend/internal/util"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger("migrate")

	steps := flag.Int("steps", 0, "apply n migrations, negative to roll back; 0 migrates up fully")
	down := flag.Bool("down", false, "roll back every migration")
	flag.Parse()

	env, err := util.RequireEnv("DATABASE_URL")
	if err != nil {
		logger.Fatal("[Migrate] Missing configuration", "err", err)
	}

	db, err := sql.Open("postgres", env["DATABASE_URL"])
	if err != nil {
		logger.Fatal("[Migrate] Failed to open database", "err", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Fatal("[Migrate] Failed to prepare database driver", "err", err)
	}
	source := "file://" + util.GetEnvString("MIGRATIONS_PATH", "migrations")
	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		logger.Fatal("[Migrate] Failed to load migrations", "source", source, "err", err)
	}

	switch {
	case *down:
		err = m.Down()
	case *steps != 0:
		err = m.Steps(*steps)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("[Migrate] Migration failed", "err", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Fatal("[Migrate] Failed to read schema version", "err", err)
	}
	logger.Info("[Migrate] Schema is current", "version", version, "dirty", dirty)
}
