package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
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
  id           VARCHAR(36)  NOT NULL PRIMARY KEY,
  source       VARCHAR(16)  NOT NULL,
  source_ref   TEXT         NOT NULL,
  status       VARCHAR(16)  NOT NULL,
  result       MEDIUMTEXT   NOT NULL,
  error        TEXT         NOT NULL,
  model        VARCHAR(64)  NOT NULL,
  duration_ms  BIGINT       NOT NULL DEFAULT 0,
  artifact_url TEXT         NOT NULL,
  created_at   DATETIME(3)  NOT NULL,
  INDEX idx_video_analyses_created (created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

// EnsureSchema creates the history table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
