package database

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kdimtricp/modcheck/internal/models"
)

type DB struct {
	gorm   *gorm.DB
	conn   *sql.DB
	dbType string
}

type Config struct {
	Type       string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SQLitePath string
	// LogQueries enables gorm's SQL logger.
	LogQueries bool
}

func NewDB(config Config) (*DB, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		// WAL lets readers list records while a poll loop is writing.
		dialector = sqlite.Open(config.SQLitePath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			config.Host, config.Port, config.User, config.Password, config.Name)
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
	if config.LogQueries {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	gdb, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{gorm: gdb, conn: conn, dbType: config.Type}

	// Only create tables for SQLite, postgres is managed by migrations
	if config.Type == "sqlite" {
		if err := db.createTables(); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return db, nil
}

func (db *DB) createTables() error {
	return db.gorm.AutoMigrate(&models.ModerationRecord{})
}

// RunMigrations applies pending SQL migrations from migrationsPath, or the
// embedded set when the path is empty.
func (db *DB) RunMigrations(ctx context.Context, migrationsPath string) error {
	fsys, err := MigrationsFS(migrationsPath)
	if err != nil {
		return err
	}
	return NewMigrator(db.conn, db.dbType).Run(ctx, fsys)
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) GORM() *gorm.DB {
	return db.gorm
}

func (db *DB) Type() string {
	return db.dbType
}
