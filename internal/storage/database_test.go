package storage

import (
	"testing"

	"chatsync/internal/config"
)

func TestMySQLDSNRequestsFoundRows(t *testing.T) {
	dsn := mysqlDSN(config.DatabaseConfig{
		Username: "chatsync",
		Password: "secret",
		Host:     "127.0.0.1",
		Port:     3306,
		DBName:   "chatsync",
		Params:   "parseTime=true",
	})
	want := "chatsync:secret@tcp(127.0.0.1:3306)/chatsync?parseTime=true&clientFoundRows=true"
	if dsn != want {
		t.Fatalf("unexpected DSN:\n got %s\nwant %s", dsn, want)
	}
}

func TestMySQLDSNWithoutParams(t *testing.T) {
	dsn := mysqlDSN(config.DatabaseConfig{
		Username: "u",
		Password: "p",
		Host:     "db",
		Port:     3306,
		DBName:   "app",
	})
	want := "u:p@tcp(db:3306)/app?clientFoundRows=true"
	if dsn != want {
		t.Fatalf("unexpected DSN:\n got %s\nwant %s", dsn, want)
	}
}
