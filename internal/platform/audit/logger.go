// Package audit persists workflow activity entries for compliance review.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medrec/medrec/internal/platform/db"
	"github.com/medrec/medrec/internal/platform/middleware"

	"github.com/medrec/medrec/internal/domain/reconciliation"
)

// Entry is one row in the activity_log table.
type Entry struct {
	ID             int64             `json:"id"`
	EntityType     string            `json:"entity_type"`
	EntityID       uuid.UUID         `json:"entity_id"`
	Action         string            `json:"action"`
	UserID         string            `json:"user_id"`
	OrganizationID string            `json:"organization_id"`
	Details        map[string]string `json:"details,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Logger writes activity entries to the database. It implements
// reconciliation.ActivityLogger and middleware.AuditRecorder.
type Logger struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewLogger creates a Logger backed by the given connection pool.
func NewLogger(pool *pgxpool.Pool, log zerolog.Logger) *Logger {
	return &Logger{pool: pool, log: log}
}

var _ reconciliation.ActivityLogger = (*Logger)(nil)

// LogActivity writes one workflow activity to the activity_log table. It uses
// the tenant-scoped connection from context when available, falling back to
// pool.Acquire.
func (l *Logger) LogActivity(ctx context.Context, a reconciliation.Activity) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}

	const query = `
		INSERT INTO activity_log (
			entity_type, entity_id, action, user_id, organization_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	args := []any{a.EntityType, a.EntityID, a.Action, a.UserID, a.OrganizationID, details}

	if conn := db.ConnFromContext(ctx); conn != nil {
		_, err = conn.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("audit: insert activity: %w", err)
		}
		return nil
	}

	poolConn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("audit: acquire connection: %w", err)
	}
	defer poolConn.Release()

	if _, err := poolConn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("audit: insert activity: %w", err)
	}
	return nil
}

// RecordAccess persists an HTTP access audit entry produced by the audit
// middleware. Failures are reported to the caller, which logs and continues.
func (l *Logger) RecordAccess(entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const query = `
		INSERT INTO access_log (
			user_id, user_roles, resource, resident_id, action,
			ip_address, user_agent, path, method, request_id, status_code, accessed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	var residentID *string
	if entry.ResidentID != "" {
		residentID = &entry.ResidentID
	}

	poolConn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("audit: acquire connection: %w", err)
	}
	defer poolConn.Release()

	_, err = poolConn.Exec(ctx, query,
		entry.UserID, entry.UserRoles, entry.Resource, residentID, entry.Action,
		entry.IPAddress, entry.UserAgent, entry.Path, entry.Method,
		entry.RequestID, entry.StatusCode, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("audit: insert access entry: %w", err)
	}
	return nil
}

// ListByEntity returns activity entries for one entity, newest first.
func (l *Logger) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT id, entity_type, entity_id, action, user_id, organization_id, details, created_at
		FROM activity_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	poolConn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: acquire connection: %w", err)
	}
	defer poolConn.Release()

	rows, err := poolConn.Query(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query activity: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action,
			&e.UserID, &e.OrganizationID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan activity: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				l.log.Warn().Err(err).Int64("entry_id", e.ID).Msg("malformed activity details")
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
