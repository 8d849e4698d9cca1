package database

import (
	"context"
	"database/sql"
	"log"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var (
	// AppDB holds campaigns, the kv store and the job outbox.
	AppDB *sql.DB

	// SessionDB holds the session config rows (small, local sqlite file).
	SessionDB *sql.DB

	// Container is the whatsmeow device store, sharing the app database.
	Container *sqlstore.Container
)

func InitAppDB(appDbURL string) {
	db, err := sql.Open("postgres", appDbURL)
	if err != nil {
		log.Fatal("Failed to connect app DB:", err)
	}
	AppDB = db
	if err := AppDB.Ping(); err != nil {
		log.Fatal("Failed to ping app DB:", err)
	}
	log.Println("App DB connected successfully")
}

func InitSessionDB(path string) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		log.Fatal("Failed to open session DB:", err)
	}
	SessionDB = db
	if err := SessionDB.Ping(); err != nil {
		log.Fatal("Failed to ping session DB:", err)
	}

	schema := `
        CREATE TABLE IF NOT EXISTS sessions (
            id         TEXT PRIMARY KEY,
            label      TEXT NOT NULL,
            enabled    INTEGER NOT NULL DEFAULT 1,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );
    `
	if _, err := SessionDB.Exec(schema); err != nil {
		log.Fatalf("failed to init session schema: %v", err)
	}
	log.Println("Session DB connected at", path)
}

func InitWhatsmeow(dbURL string) {
	dbLog := waLog.Stdout("Database", "INFO", true)
	container, err := sqlstore.New(context.Background(), "postgres", dbURL, dbLog)
	if err != nil {
		log.Fatal("Failed to init whatsmeow store:", err)
	}
	Container = container
}
