package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"unread-service/internal/logger"
)

// Connect opens the database, sizes the pool and runs migrations.
func Connect(ctx context.Context, dsn string, log *logger.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied", zap.Int("count", len(migrations)))
	return db, nil
}

// migrations are idempotent. Unread counts are derived from these tables.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id BIGSERIAL PRIMARY KEY,
        email TEXT NOT NULL UNIQUE,
        name TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE TABLE IF NOT EXISTS projects (
        id BIGSERIAL PRIMARY KEY,
        name TEXT NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS project_members (
        project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
        user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        active BOOLEAN NOT NULL DEFAULT TRUE,
        PRIMARY KEY(project_id, user_id)
    );`,
	`CREATE TABLE IF NOT EXISTS system_messages (
        id BIGSERIAL PRIMARY KEY,
        sender_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
        content TEXT NOT NULL,
        broadcast_all BOOLEAN NOT NULL DEFAULT FALSE,
        is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE TABLE IF NOT EXISTS system_message_targets (
        message_id BIGINT NOT NULL REFERENCES system_messages(id) ON DELETE CASCADE,
        user_id BIGINT NOT NULL,
        PRIMARY KEY(message_id, user_id)
    );`,
	`CREATE TABLE IF NOT EXISTS system_message_reads (
        message_id BIGINT NOT NULL REFERENCES system_messages(id) ON DELETE CASCADE,
        user_id BIGINT NOT NULL,
        is_read BOOLEAN NOT NULL DEFAULT FALSE,
        read_at TIMESTAMPTZ,
        PRIMARY KEY(message_id, user_id)
    );`,
	`CREATE TABLE IF NOT EXISTS project_messages (
        id BIGSERIAL PRIMARY KEY,
        project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
        sender_id BIGINT NOT NULL,
        content TEXT NOT NULL,
        is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS project_messages_history ON project_messages (project_id, created_at, id);`,
	`CREATE TABLE IF NOT EXISTS project_message_reads (
        message_id BIGINT NOT NULL REFERENCES project_messages(id) ON DELETE CASCADE,
        user_id BIGINT NOT NULL,
        read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        PRIMARY KEY(message_id, user_id)
    );`,
	`CREATE TABLE IF NOT EXISTS private_chats (
        id BIGSERIAL PRIMARY KEY,
        user1_id BIGINT NOT NULL,
        user2_id BIGINT NOT NULL,
        project_id BIGINT REFERENCES projects(id) ON DELETE SET NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        CHECK (user1_id < user2_id)
    );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS private_chats_pair ON private_chats (user1_id, user2_id, COALESCE(project_id, 0));`,
	`CREATE TABLE IF NOT EXISTS private_messages (
        id BIGSERIAL PRIMARY KEY,
        chat_id BIGINT NOT NULL REFERENCES private_chats(id) ON DELETE CASCADE,
        sender_id BIGINT NOT NULL,
        receiver_id BIGINT NOT NULL,
        content TEXT NOT NULL,
        is_read BOOLEAN NOT NULL DEFAULT FALSE,
        read_at TIMESTAMPTZ,
        is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS private_messages_unread ON private_messages (receiver_id) WHERE is_read = FALSE AND is_deleted = FALSE;`,
	`CREATE INDEX IF NOT EXISTS private_messages_history ON private_messages (chat_id, created_at, id);`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
