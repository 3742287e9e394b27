package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/SlotFox/internal/pkg/database"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
)

// Standalone migration runner. Unlike the server, which applies the embedded
// migrations on boot, this reads them from disk so an operator can roll back
// or pin a version without rebuilding the binary.
func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	dialect := database.Dialect()
	log.Printf("running against %s", dialect)

	m, err := migrate.New(
		fmt.Sprintf("file://migrations/%s", dialect),
		databaseURL(dialect),
	)
	if err != nil {
		log.Fatalf("init migrator: %v", err)
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("closing migrator: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("apply migrations: %v", err)
		} else if errors.Is(err, migrate.ErrNoChange) {
			log.Println("no change: schema already up to date")
		} else {
			log.Println("migrations applied")
		}

	case "down":
		// Rolls back one migration, not the whole schema.
		if err := m.Steps(-1); err != nil {
			log.Fatalf("roll back last migration: %v", err)
		}
		log.Println("rolled back last migration")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal("goto needs a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("invalid version number: %v", err)
		}
		if err := m.Migrate(uint(version)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("migrate to version %d: %v", version, err)
		} else if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("no change: schema already at version %d", version)
		} else {
			log.Printf("migrated to version %d", version)
		}

	case "status", "version":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Println("no migrations applied yet")
				return
			}
			log.Fatalf("read migration version: %v", err)
		}
		dirtyStatus := ""
		if dirty {
			dirtyStatus = " (dirty)"
		}
		log.Printf("current migration version: %d%s", version, dirtyStatus)

	default:
		printUsage()
		os.Exit(1)
	}
}

// databaseURL assembles the golang-migrate connection URL for the active
// dialect from the same environment the server reads.
func databaseURL(dialect string) string {
	if dialect == database.DialectMySQL {
		if raw := env.GetEnv("DATABASE_URL", ""); raw != "" {
			return "mysql://" + appendMultiStatements(raw)
		}
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
			env.GetEnv("DB_USER", "slotfox"),
			env.GetEnv("DB_PASSWORD", "slotfox"),
			env.GetEnv("DB_HOST", "db"),
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_NAME", "slotfox_db"),
		)
	}
	return fmt.Sprintf("sqlite3://%s?_busy_timeout=5000", env.GetEnv("SQLITE_PATH", "slotfox.db"))
}

func appendMultiStatements(dsn string) string {
	if strings.Contains(dsn, "multiStatements=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&multiStatements=true"
	}
	return dsn + "?multiStatements=true"
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up      - apply all pending migrations")
	fmt.Println("  down    - roll back the last migration")
	fmt.Println("  goto N  - migrate to version N")
	fmt.Println("  status  - print the current migration version")
	fmt.Println("  version - alias for status")
}
