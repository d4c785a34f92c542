// Package storage is the durable shared copy behind the remote REST
// endpoints. Deletes are tombstones: rows flip a deleted flag and bump
// updated_at so delta pulls can tell "deleted" apart from "unchanged".
package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"chatsync/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver type.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
	case "mysql":
		db, err = sql.Open("mysql", mysqlDSN(dbCfg))
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// mysqlDSN builds the driver DSN. clientFoundRows makes RowsAffected count
// matched rows rather than changed rows; without it a replayed identical
// upsert would see 0 affected rows from its UPDATE and fall through to an
// INSERT that hits the duplicate key.
func mysqlDSN(cfg config.DatabaseConfig) string {
	params := cfg.Params
	if params == "" {
		params = "clientFoundRows=true"
	} else {
		params += "&clientFoundRows=true"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		params,
	)
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS chat_histories (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL,
				title TEXT NOT NULL,
				profile_name TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				deleted INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_histories_user ON chat_histories(username, updated_at DESC)`,
			`CREATE TABLE IF NOT EXISTS messages (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id TEXT NOT NULL,
				message_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				deleted INTEGER NOT NULL DEFAULT 0,
				UNIQUE(chat_id, message_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, updated_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS chat_histories (
				id VARCHAR(255) NOT NULL,
				username VARCHAR(255) NOT NULL,
				title VARCHAR(255) NOT NULL,
				profile_name VARCHAR(255) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				deleted TINYINT NOT NULL DEFAULT 0,
				PRIMARY KEY (id),
				INDEX idx_chat_histories_user (username, updated_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				seq BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				chat_id VARCHAR(255) NOT NULL,
				message_id VARCHAR(255) NOT NULL,
				role VARCHAR(50) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				is_active TINYINT NOT NULL DEFAULT 1,
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				deleted TINYINT NOT NULL DEFAULT 0,
				PRIMARY KEY (seq),
				UNIQUE KEY uniq_chat_message (chat_id, message_id),
				INDEX idx_messages_chat (chat_id, updated_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
