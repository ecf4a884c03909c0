package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS identity_users (
	id          TEXT PRIMARY KEY,
	metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS identity_methods (
	user_id       TEXT NOT NULL REFERENCES identity_users(id) ON DELETE CASCADE,
	kind          TEXT NOT NULL,
	identifier    TEXT NOT NULL,
	verified      BOOLEAN NOT NULL DEFAULT FALSE,
	password_hash TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (kind, identifier)
);

CREATE INDEX IF NOT EXISTS identity_methods_user_idx ON identity_methods (user_id);
`

// Postgres is a [Store] backed by PostgreSQL via database/sql and lib/pq.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool. Call [Postgres.EnsureSchema]
// once at startup.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the identity tables when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Postgres) CreateUser(ctx context.Context, methods []LoginMethod) (*IdentityRecord, error) {
	rec := &IdentityRecord{
		UserID:    uuid.NewString(),
		Methods:   append([]LoginMethod(nil), methods...),
		Metadata:  map[string]any{},
		CreatedAt: time.Now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO identity_users (id, metadata, created_at) VALUES ($1, '{}'::jsonb, $2)`,
			rec.UserID, rec.CreatedAt,
		); err != nil {
			return err
		}
		for _, m := range methods {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO identity_methods (user_id, kind, identifier, verified, password_hash)
				 VALUES ($1, $2, $3, $4, $5)`,
				rec.UserID, m.Kind, m.Identifier, m.Verified, m.PasswordHash,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Postgres) FindByMethod(ctx context.Context, kind MethodKind, identifier string) (*IdentityRecord, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM identity_methods WHERE kind = $1 AND identifier = $2`,
		kind, identifier,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, wrapPG(err)
	}
	return s.FindByID(ctx, userID)
}

func (s *Postgres) FindByID(ctx context.Context, userID string) (*IdentityRecord, error) {
	rec := &IdentityRecord{UserID: userID, Metadata: map[string]any{}}

	var rawMeta []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata, created_at FROM identity_users WHERE id = $1`,
		userID,
	).Scan(&rawMeta, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, wrapPG(err)
	}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, identifier, verified, password_hash
		 FROM identity_methods WHERE user_id = $1 ORDER BY kind, identifier`,
		userID,
	)
	if err != nil {
		return nil, wrapPG(err)
	}
	defer rows.Close()

	for rows.Next() {
		var m LoginMethod
		if err := rows.Scan(&m.Kind, &m.Identifier, &m.Verified, &m.PasswordHash); err != nil {
			return nil, wrapPG(err)
		}
		rec.Methods = append(rec.Methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPG(err)
	}
	return rec, nil
}

func (s *Postgres) AddMethod(ctx context.Context, userID string, method LoginMethod) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_methods (user_id, kind, identifier, verified, password_hash)
		 SELECT $1, $2, $3, $4, $5 WHERE EXISTS (SELECT 1 FROM identity_users WHERE id = $1)`,
		userID, method.Kind, method.Identifier, method.Verified, method.PasswordHash,
	)
	if err != nil {
		return wrapPG(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapPG(err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Postgres) UpdateMetadata(ctx context.Context, userID string, patch map[string]any) (*IdentityRecord, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var rawMeta []byte
		err := tx.QueryRowContext(ctx,
			`SELECT metadata FROM identity_users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&rawMeta)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		meta := map[string]any{}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &meta); err != nil {
				return fmt.Errorf("decode metadata: %w", err)
			}
		}
		for k, v := range patch {
			if v == nil {
				delete(meta, k)
				continue
			}
			meta[k] = v
		}

		encoded, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE identity_users SET metadata = $2 WHERE id = $1`,
			userID, encoded,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, userID)
}

func (s *Postgres) MarkVerified(ctx context.Context, userID string, kind MethodKind, identifier string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_methods SET verified = TRUE
		 WHERE user_id = $1 AND kind = $2 AND identifier = $3`,
		userID, kind, identifier,
	)
	if err != nil {
		return wrapPG(err)
	}
	return requireRow(res)
}

func (s *Postgres) SetPasswordHash(ctx context.Context, userID string, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_methods SET password_hash = $2
		 WHERE user_id = $1 AND kind = $3`,
		userID, hash, MethodPassword,
	)
	if err != nil {
		return wrapPG(err)
	}
	return requireRow(res)
}

func (s *Postgres) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identity_users WHERE id = $1`, userID)
	if err != nil {
		return wrapPG(err)
	}
	return requireRow(res)
}

func (s *Postgres) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapPG(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return wrapPG(err)
	}
	if err := tx.Commit(); err != nil {
		return wrapPG(err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapPG(err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// wrapPG maps driver failures onto the store taxonomy. Unique violations
// become ErrDuplicateIdentifier; sentinel errors pass through; anything else
// is treated as a transient backend failure.
func wrapPG(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrDuplicateIdentifier) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return ErrDuplicateIdentifier
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

var _ Store = (*Postgres)(nil)
