package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// schema is idempotent; Migrate runs it on every start
var schema = []string{
	`CREATE TABLE IF NOT EXISTS entity (
		row_id        uuid PRIMARY KEY,
		owner_id      text    NOT NULL,
		entity_type   text    NOT NULL,
		uid           text    NOT NULL,
		version       integer NOT NULL DEFAULT 1,
		updated_at_ms bigint  NOT NULL,
		changed_ms    bigint  NOT NULL,
		deleted       boolean NOT NULL DEFAULT false,
		payload_json  json,
		UNIQUE (owner_id, entity_type, uid)
	)`,
	`CREATE INDEX IF NOT EXISTS entity_feed_idx ON entity (owner_id, changed_ms, row_id)`,
	`CREATE TABLE IF NOT EXISTS idempotency_key (
		owner_id   text        NOT NULL,
		key        text        NOT NULL,
		status     integer     NOT NULL,
		body       bytea       NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (owner_id, key)
	)`,
	`CREATE INDEX IF NOT EXISTS idempotency_key_created_idx ON idempotency_key (created_at)`,
}

// Migrate creates the tables the store needs
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	log.Info().Int("statements", len(schema)).Msg("database schema ready")
	return nil
}
