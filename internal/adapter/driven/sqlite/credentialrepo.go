package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialRepository = (*CredentialRepo)(nil)

const credentialColumns = `id, name, provider, environment, encrypted_key, key_hint, is_active,
	expires_at, rotated_at, rotation_due, last_used_at, usage_count, created_by, created_at, updated_at`

// CredentialRepo is the SQLite implementation of the CredentialRepository port.
// It stores the cipher envelope verbatim; encryption happens above it.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// Insert stores a new credential. Returns driven.ErrCredentialExists when the
// (provider, environment) pair already has a record.
func (r *CredentialRepo) Insert(ctx context.Context, cred model.Credential) error {
	const query = `INSERT INTO system_api_keys (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Writer.ExecContext(ctx, query,
		cred.ID,
		cred.Name,
		string(cred.Provider),
		string(cred.Environment),
		cred.EncryptedSecret,
		cred.Hint,
		cred.IsActive,
		nullableTime(cred.ExpiresAt),
		nullableTime(cred.RotatedAt),
		nullableTime(cred.RotationDue),
		nullableTime(cred.LastUsedAt),
		cred.UsageCount,
		cred.CreatedBy,
		formatTime(cred.CreatedAt),
		formatTime(cred.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("insert credential %s/%s: %w", cred.Provider, cred.Environment, driven.ErrCredentialExists)
		}
		return fmt.Errorf("insert credential %s/%s: %w", cred.Provider, cred.Environment, err)
	}
	return nil
}

// Update rewrites the mutable columns of the credential. Provider,
// environment and creation metadata are immutable.
func (r *CredentialRepo) Update(ctx context.Context, cred model.Credential) error {
	const query = `UPDATE system_api_keys SET
		name = ?, encrypted_key = ?, key_hint = ?, is_active = ?,
		expires_at = ?, rotated_at = ?, rotation_due = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		cred.Name,
		cred.EncryptedSecret,
		cred.Hint,
		cred.IsActive,
		nullableTime(cred.ExpiresAt),
		nullableTime(cred.RotatedAt),
		nullableTime(cred.RotationDue),
		formatTime(cred.UpdatedAt),
		cred.ID,
	)
	if err != nil {
		return fmt.Errorf("update credential %s: %w", cred.ID, err)
	}

	return checkRowsAffected(result, "update credential", cred.ID)
}

// GetByID returns the credential with the given ID, or nil, nil if it does not exist.
func (r *CredentialRepo) GetByID(ctx context.Context, id string) (*model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM system_api_keys WHERE id = ?`

	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s: %w", id, err)
	}
	return &cred, nil
}

// FindResolvable returns the active credential for the pair whose expiry, if
// any, has not passed at now. Returns nil, nil when none qualifies.
func (r *CredentialRepo) FindResolvable(ctx context.Context, provider model.ProviderID, env model.Environment, now time.Time) (*model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM system_api_keys
		WHERE provider = ? AND environment = ? AND is_active = 1
		AND (expires_at IS NULL OR expires_at >= ?)`

	cred, err := scanCredential(r.db.Reader.QueryRowContext(ctx, query, string(provider), string(env), formatTime(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find credential %s/%s: %w", provider, env, err)
	}
	return &cred, nil
}

// ListAll returns all credentials ordered by provider and environment.
func (r *CredentialRepo) ListAll(ctx context.Context) ([]model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM system_api_keys ORDER BY provider, environment`
	return r.list(ctx, "list credentials", query)
}

// ListDueForRotation returns active credentials whose rotation_due is at or before now.
func (r *CredentialRepo) ListDueForRotation(ctx context.Context, now time.Time) ([]model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM system_api_keys
		WHERE is_active = 1 AND rotation_due IS NOT NULL AND rotation_due <= ?
		ORDER BY rotation_due`
	return r.list(ctx, "list credentials due for rotation", query, formatTime(now))
}

// ListExpired returns active credentials whose expires_at is strictly before now.
func (r *CredentialRepo) ListExpired(ctx context.Context, now time.Time) ([]model.Credential, error) {
	const query = `SELECT ` + credentialColumns + ` FROM system_api_keys
		WHERE is_active = 1 AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at`
	return r.list(ctx, "list expired credentials", query, formatTime(now))
}

// RecordUsage increments usage_count and stamps last_used_at. It does not
// touch updated_at, which tracks operator changes only.
func (r *CredentialRepo) RecordUsage(ctx context.Context, id string, now time.Time) error {
	const query = `UPDATE system_api_keys SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("record usage %s: %w", id, err)
	}
	return checkRowsAffected(result, "record usage", id)
}

// Delete permanently removes the credential.
func (r *CredentialRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM system_api_keys WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete credential %s: %w", id, err)
	}
	return checkRowsAffected(result, "delete credential", id)
}

func (r *CredentialRepo) list(ctx context.Context, op, query string, args ...any) ([]model.Credential, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (model.Credential, error) {
	var (
		cred                                       model.Credential
		provider, environment                      string
		expiresAt, rotatedAt, rotationDue, lastUse sql.NullString
		createdAt, updatedAt                       string
	)

	err := s.Scan(
		&cred.ID,
		&cred.Name,
		&provider,
		&environment,
		&cred.EncryptedSecret,
		&cred.Hint,
		&cred.IsActive,
		&expiresAt,
		&rotatedAt,
		&rotationDue,
		&lastUse,
		&cred.UsageCount,
		&cred.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return model.Credential{}, err
	}

	cred.Provider = model.ProviderID(provider)
	cred.Environment = model.Environment(environment)

	if cred.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse expires_at: %w", err)
	}
	if cred.RotatedAt, err = parseNullableTime(rotatedAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse rotated_at: %w", err)
	}
	if cred.RotationDue, err = parseNullableTime(rotationDue); err != nil {
		return model.Credential{}, fmt.Errorf("parse rotation_due: %w", err)
	}
	if cred.LastUsedAt, err = parseNullableTime(lastUse); err != nil {
		return model.Credential{}, fmt.Errorf("parse last_used_at: %w", err)
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse created_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Credential{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return cred, nil
}

func checkRowsAffected(result sql.Result, op, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", op, id, driven.ErrCredentialNotFound)
	}
	return nil
}
