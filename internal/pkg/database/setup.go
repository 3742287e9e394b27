package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	dbdriver "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
	"github.com/ManuelReschke/SlotFox/migrations"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

const (
	DialectSQLite = "sqlite"
	DialectMySQL  = "mysql"
)

var DB *gorm.DB

func GetDB() *gorm.DB {
	return DB
}

// Dialect reports the configured SQL dialect; anything other than "mysql"
// falls back to sqlite, the default for single-node deployments.
func Dialect() string {
	if env.GetEnv("DB_DIALECT", DialectSQLite) == DialectMySQL {
		return DialectMySQL
	}
	return DialectSQLite
}

// SQLiteDSN builds the sqlite DSN for the given file path. _txlock=immediate
// makes every write transaction take the write lock at BEGIN, so two
// concurrent booking holds serialize instead of failing halfway through.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=true&_txlock=immediate", path)
}

func sqlitePath() string {
	return env.GetEnv("SQLITE_PATH", "slotfox.db")
}

func mysqlDSN() string {
	if url := env.GetEnv("DATABASE_URL", ""); url != "" {
		return url
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "slotfox"),
	)
}

func SetupDatabase() error {
	log := logging.GetLogger()

	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = openGorm()
		if err == nil {
			log.WithField("dialect", Dialect()).Info("[Database] connected")
			return nil
		}

		log.Warnf("[Database] connect failed (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	return fmt.Errorf("database connect: %w", err)
}

func openGorm() (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormLogger(),
	}

	if Dialect() == DialectMySQL {
		return gorm.Open(mysql.New(mysql.Config{
			DSN:                       mysqlDSN(),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), cfg)
	}

	return gorm.Open(sqlite.Open(SQLiteDSN(sqlitePath())), cfg)
}

func gormLogger() gormlogger.Interface {
	if env.IsDev() {
		return gormlogger.Default.LogMode(gormlogger.Warn)
	}
	return gormlogger.Default.LogMode(gormlogger.Silent)
}

// Migrate applies every pending embedded migration for the active dialect.
// It opens its own database/sql connection so closing the migrator never
// tears down the GORM pool, and so the mysql path can enable
// multiStatements, which the multi-table migration files need.
func Migrate() error {
	if Dialect() == DialectMySQL {
		return runMigrations(DialectMySQL, withMultiStatements(mysqlDSN()))
	}
	return MigrateSQLite(sqlitePath())
}

// MigrateSQLite brings the sqlite database at path up to the latest embedded
// schema version. Exported for tests that run against a temp file.
func MigrateSQLite(path string) error {
	return runMigrations(DialectSQLite, SQLiteDSN(path))
}

func runMigrations(dialect, dsn string) error {
	log := logging.GetLogger()

	src, err := iofs.New(migrations.FS, dialect)
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	driverName := "sqlite3"
	if dialect == DialectMySQL {
		driverName = "mysql"
	}
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	var driver dbdriver.Driver
	if dialect == DialectMySQL {
		driver, err = migratemysql.WithInstance(sqlDB, &migratemysql.Config{})
	} else {
		driver, err = migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("init %s migrator: %w", dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warnf("[Database] closing migrator: %v %v", srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", verr)
	}
	log.WithFields(logrus.Fields{
		"dialect": dialect,
		"version": version,
		"dirty":   dirty,
	}).Info("[Database] schema up to date")
	return nil
}

func withMultiStatements(dsn string) string {
	if strings.Contains(dsn, "multiStatements=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "multiStatements=true"
}

// WithWriteTx runs fn inside a single transaction. On sqlite the DSN's
// _txlock=immediate makes this a write transaction from the first statement;
// on mysql callers add row locks where they need them.
func WithWriteTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return DB.WithContext(ctx).Transaction(fn)
}
