package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Store
type PGStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPGStore wraps a pool; the schema must already exist (db.Migrate)
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{db: pool, now: time.Now}
}

func (s *PGStore) ApplyMutation(ctx context.Context, owner string, m Mutation) (Entity, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Entity{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	found := true
	existing, err := scanEntity(tx.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM entity
		WHERE owner_id = $1 AND entity_type = $2 AND uid = $3
		FOR UPDATE
	`, owner, m.EntityType, m.UID))
	if errors.Is(err, pgx.ErrNoRows) {
		found = false
	} else if err != nil {
		return Entity{}, fmt.Errorf("select entity: %w", err)
	}

	var prev *Entity
	if found {
		prev = &existing
	}
	next, changed, err := resolve(prev, m, s.now().UnixMilli())
	if err != nil {
		return Entity{}, err
	}
	if !changed {
		return next, nil
	}

	if found {
		_, err = tx.Exec(ctx, `
			UPDATE entity SET
				version       = $2,
				updated_at_ms = $3,
				changed_ms    = $4,
				deleted       = $5,
				payload_json  = $6
			WHERE row_id = $1
		`, next.RowID, next.Version, next.UpdatedAtMs, next.ChangedMs, next.Deleted, nullableJSON(next.Data))
	} else {
		// A concurrent insert of the same uid loses on the unique constraint
		// and surfaces as an error; the client retries under its idempotency key
		_, err = tx.Exec(ctx, `
			INSERT INTO entity (row_id, owner_id, entity_type, uid, version, updated_at_ms, changed_ms, deleted, payload_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, next.RowID, owner, next.EntityType, next.UID, next.Version, next.UpdatedAtMs, next.ChangedMs, next.Deleted, nullableJSON(next.Data))
	}
	if err != nil {
		return Entity{}, fmt.Errorf("write entity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Entity{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (s *PGStore) Changes(ctx context.Context, owner string, after syncx.Cursor, limit int) ([]Entity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entity
		WHERE owner_id = $1
		  AND (changed_ms, row_id) > ($2, $3)
		ORDER BY changed_ms, row_id
		LIMIT $4
	`, owner, after.ChangedMs, after.UID, limit)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) LookupIdempotency(ctx context.Context, owner, key string) (*IdempotentResponse, error) {
	var r IdempotentResponse
	err := s.db.QueryRow(ctx,
		`SELECT status, body FROM idempotency_key WHERE owner_id = $1 AND key = $2`,
		owner, key).Scan(&r.Status, &r.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return &r, nil
}

func (s *PGStore) SaveIdempotency(ctx context.Context, owner, key string, resp IdempotentResponse) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO idempotency_key (owner_id, key, status, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, key) DO NOTHING
	`, owner, key, resp.Status, resp.Body)
	if err != nil {
		return fmt.Errorf("save idempotency key: %w", err)
	}
	return nil
}

// PurgeIdempotency deletes keys older than age and returns how many were removed
func (s *PGStore) PurgeIdempotency(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM idempotency_key WHERE created_at < now() - make_interval(secs => $1)`,
		age.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const entityColumns = `row_id, entity_type, uid, version, updated_at_ms, changed_ms, deleted, payload_json::text`

func scanEntity(row pgx.Row) (Entity, error) {
	var (
		e       Entity
		payload *string
	)
	err := row.Scan(&e.RowID, &e.EntityType, &e.UID, &e.Version, &e.UpdatedAtMs, &e.ChangedMs, &e.Deleted, &payload)
	if payload != nil {
		e.Data = json.RawMessage(*payload)
	}
	return e, err
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
