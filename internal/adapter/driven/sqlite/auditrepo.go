package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditLogger = (*AuditRepo)(nil)

// AuditRepo persists the credential audit trail in the audit_log table.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new AuditRepo backed by the given DB.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Log appends one audit row. The data maps are stored as JSON.
func (r *AuditRepo) Log(ctx context.Context, actx model.AuditContext, event model.AuditEvent) error {
	const query = `INSERT INTO audit_log
		(actor_id, ip_address, user_agent, action, entity_type, entity_id, previous_data, new_data, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	previous, err := nullableJSON(event.PreviousData)
	if err != nil {
		return fmt.Errorf("marshal previous_data: %w", err)
	}
	next, err := nullableJSON(event.NewData)
	if err != nil {
		return fmt.Errorf("marshal new_data: %w", err)
	}
	details, err := nullableJSON(event.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		actx.ActorID,
		actx.IPAddress,
		actx.UserAgent,
		string(event.Action),
		event.EntityType,
		event.EntityID,
		previous,
		next,
		details,
		formatTime(occurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit event %s %s: %w", event.Action, event.EntityID, err)
	}
	return nil
}

// ListByEntity returns the audit trail of one entity, oldest first.
func (r *AuditRepo) ListByEntity(ctx context.Context, entityType, entityID string) ([]model.AuditRecord, error) {
	const query = `SELECT id, actor_id, ip_address, user_agent, action, entity_type, entity_id,
		previous_data, new_data, details, created_at
		FROM audit_log WHERE entity_type = ? AND entity_id = ? ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var records []model.AuditRecord
	for rows.Next() {
		var (
			rec                     model.AuditRecord
			action, createdAt       string
			previous, next, details sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Context.ActorID,
			&rec.Context.IPAddress,
			&rec.Context.UserAgent,
			&action,
			&rec.Event.EntityType,
			&rec.Event.EntityID,
			&previous,
			&next,
			&details,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		rec.Event.Action = model.AuditAction(action)
		if rec.Event.PreviousData, err = jsonMap(previous); err != nil {
			return nil, fmt.Errorf("decode previous_data: %w", err)
		}
		if rec.Event.NewData, err = jsonMap(next); err != nil {
			return nil, fmt.Errorf("decode new_data: %w", err)
		}
		if rec.Event.Details, err = jsonMap(details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		if rec.Event.OccurredAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return records, nil
}

func nullableJSON(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
