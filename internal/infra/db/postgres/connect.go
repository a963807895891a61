package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS video_analyses (
  id           VARCHAR(36) PRIMARY KEY,
  source       VARCHAR(16) NOT NULL,
  source_ref   TEXT        NOT NULL,
  status       VARCHAR(16) NOT NULL,
  result       TEXT        NOT NULL,
  error        TEXT        NOT NULL,
  model        VARCHAR(64) NOT NULL,
  duration_ms  BIGINT      NOT NULL DEFAULT 0,
  artifact_url TEXT        NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_video_analyses_created ON video_analyses (created_at);`

// EnsureSchema creates the history table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
