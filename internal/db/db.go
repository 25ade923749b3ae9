package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(ctx context.Context, dsn string, maxOpenConns int) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxOpenConns)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// AutoMigrate creates the chat tables when they are missing.
//
// notifications.source_ref holds the fan-out delivery id of notifications
// written by the consumer. It is unique so a redelivered envelope cannot
// produce a second row; router-written notifications leave it NULL.
func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            sender_id TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            image TEXT,
            status VARCHAR(10) NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'delivered', 'read')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		`CREATE INDEX IF NOT EXISTS messages_pair_idx
            ON messages (sender_id, receiver_id, created_at DESC)`,

		`CREATE INDEX IF NOT EXISTS messages_receiver_idx
            ON messages (receiver_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS notifications (
            id BIGSERIAL PRIMARY KEY,
            sender_id TEXT,
            receiver_id TEXT NOT NULL,
            content TEXT NOT NULL,
            image TEXT,
            read BOOLEAN NOT NULL DEFAULT false,
            source_ref TEXT UNIQUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,

		`CREATE INDEX IF NOT EXISTS notifications_receiver_idx
            ON notifications (receiver_id, created_at DESC)`,
	}

	for _, query := range queries {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
