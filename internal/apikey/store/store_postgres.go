package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gatehouse/pkg/domain"
	"gatehouse/pkg/platform/sentinel"
	pstrings "gatehouse/pkg/platform/strings"
	"gatehouse/pkg/platform/tx"
)

// Schema is the table the Postgres store reads. Restriction columns hold
// comma-separated lists; NULL or empty means unrestricted.
const Schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id                    TEXT PRIMARY KEY,
	secret_hash           TEXT NOT NULL,
	organization_id       TEXT,
	scopes                TEXT NOT NULL DEFAULT '',
	ip_restrictions       TEXT,
	referrer_restrictions TEXT,
	expires_at            TIMESTAMPTZ
)`

const findByIDQuery = `SELECT id, secret_hash, organization_id, scopes, ip_restrictions, referrer_restrictions, expires_at FROM api_keys WHERE id = $1`

const upsertQuery = `INSERT INTO api_keys (id, secret_hash, organization_id, scopes, ip_restrictions, referrer_restrictions, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	secret_hash = EXCLUDED.secret_hash,
	organization_id = EXCLUDED.organization_id,
	scopes = EXCLUDED.scopes,
	ip_restrictions = EXCLUDED.ip_restrictions,
	referrer_restrictions = EXCLUDED.referrer_restrictions,
	expires_at = EXCLUDED.expires_at`

// PostgresStore reads API key records from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindByID returns sentinel.ErrNotFound for unknown ids and wraps every other
// failure with sentinel.ErrUnavailable.
func (s *PostgresStore) FindByID(ctx context.Context, id domain.APIKeyID) (*domain.APIKeyRecord, error) {
	var (
		rec                   domain.APIKeyRecord
		rawID                 string
		orgID, ips, referrers sql.NullString
		scopes                string
		expiresAt             sql.NullTime
	)
	err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, findByIDQuery, string(id)).
		Scan(&rawID, &rec.SecretHash, &orgID, &scopes, &ips, &referrers, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find api key: %w: %w", sentinel.ErrUnavailable, err)
	}

	rec.ID = domain.APIKeyID(rawID)
	rec.OrganizationID = domain.OrganizationID(orgID.String)
	rec.Scopes = pstrings.SplitList(scopes)
	rec.IPRestrictions = pstrings.SplitList(ips.String)
	rec.ReferrerRestrictions = pstrings.SplitList(referrers.String)
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
	}
	return &rec, nil
}

// Save upserts a record. It is used by seeding and tests; key management
// itself lives outside this service.
func (s *PostgresStore) Save(ctx context.Context, rec *domain.APIKeyRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("api key record with id is required")
	}
	var expiresAt sql.NullTime
	if rec.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: rec.ExpiresAt.UTC().Truncate(time.Microsecond), Valid: true}
	}
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, upsertQuery,
		string(rec.ID),
		rec.SecretHash,
		nullString(string(rec.OrganizationID)),
		pstrings.JoinList(rec.Scopes),
		nullString(pstrings.JoinList(rec.IPRestrictions)),
		nullString(pstrings.JoinList(rec.ReferrerRestrictions)),
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("save api key: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
