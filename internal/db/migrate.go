package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// migrationLockID is an arbitrary advisory lock key. Processes starting at
// the same time apply the schema one after another.
const migrationLockID = 727_001

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_name     TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL DEFAULT '',
		email         TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
		avatar        TEXT NOT NULL DEFAULT 'default.png',
		status        TEXT NOT NULL DEFAULT 'offline' CHECK (status IN ('online', 'offline')),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_name ON users (name)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name       TEXT NOT NULL UNIQUE,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id  UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		user_name TEXT NOT NULL,
		added_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (group_id, user_name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members (user_name)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id              BIGSERIAL PRIMARY KEY,
		kind            TEXT NOT NULL CHECK (kind IN ('public', 'private', 'group')),
		participants    TEXT[] NOT NULL DEFAULT '{}',
		group_name      TEXT,
		last_message_at TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	// One row per conversation key. The partial indexes are the conflict
	// targets of the upserts in repository/postgres.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_conversations_public ON conversations (kind) WHERE kind = 'public'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_conversations_private ON conversations (participants) WHERE kind = 'private'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_conversations_group ON conversations (group_name) WHERE kind = 'group'`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		kind            TEXT NOT NULL,
		sender          TEXT NOT NULL,
		recipient       TEXT NOT NULL DEFAULT '',
		group_name      TEXT NOT NULL DEFAULT '',
		body            TEXT NOT NULL DEFAULT '',
		attachment      JSONB,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at, id)`,
}

// Migrate applies the schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		for i, stmt := range migrations {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db.logger.Info("database migrations applied", zap.Int("statements", len(migrations)))
	return nil
}
