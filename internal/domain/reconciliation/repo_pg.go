package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrec/medrec/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type recordRepoPG struct{ pool *pgxpool.Pool }

// NewRecordRepoPG creates the PostgreSQL-backed record repository. Record
// lists (medication sources, discrepancies, resolutions, review) are stored
// as jsonb so a single UPDATE replaces the whole aggregate atomically.
func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository { return &recordRepoPG{pool: pool} }

func (r *recordRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `id, resident_id, reconciliation_type, reconciliation_date, performed_by,
	reviewed_by, status, source_list, target_list, discrepancies, resolutions,
	clinical_notes, pharmacist_review, organization_id, created_at, updated_at`

func scanRecord(row pgx.Row) (*ReconciliationRecord, error) {
	var rec ReconciliationRecord
	var sourceList, targetList, discrepancies, resolutions []byte
	var review []byte

	err := row.Scan(&rec.ID, &rec.ResidentID, &rec.ReconciliationType, &rec.ReconciliationDate,
		&rec.PerformedBy, &rec.ReviewedBy, &rec.Status, &sourceList, &targetList,
		&discrepancies, &resolutions, &rec.ClinicalNotes, &review,
		&rec.OrganizationID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(sourceList, &rec.SourceList); err != nil {
		return nil, fmt.Errorf("decode source_list: %w", err)
	}
	if err := json.Unmarshal(targetList, &rec.TargetList); err != nil {
		return nil, fmt.Errorf("decode target_list: %w", err)
	}
	if err := json.Unmarshal(discrepancies, &rec.Discrepancies); err != nil {
		return nil, fmt.Errorf("decode discrepancies: %w", err)
	}
	if err := json.Unmarshal(resolutions, &rec.Resolutions); err != nil {
		return nil, fmt.Errorf("decode resolutions: %w", err)
	}
	if len(review) > 0 {
		rec.PharmacistReview = &PharmacistReview{}
		if err := json.Unmarshal(review, rec.PharmacistReview); err != nil {
			return nil, fmt.Errorf("decode pharmacist_review: %w", err)
		}
	}
	return &rec, nil
}

func marshalAggregate(rec *ReconciliationRecord) (sourceList, targetList, discrepancies, resolutions, review []byte, err error) {
	if sourceList, err = json.Marshal(rec.SourceList); err != nil {
		return
	}
	if targetList, err = json.Marshal(rec.TargetList); err != nil {
		return
	}
	if discrepancies, err = json.Marshal(rec.Discrepancies); err != nil {
		return
	}
	if resolutions, err = json.Marshal(rec.Resolutions); err != nil {
		return
	}
	if rec.PharmacistReview != nil {
		review, err = json.Marshal(rec.PharmacistReview)
	}
	return
}

func (r *recordRepoPG) Save(ctx context.Context, rec *ReconciliationRecord) error {
	sourceList, targetList, discrepancies, resolutions, review, err := marshalAggregate(rec)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO reconciliation_record (id, resident_id, reconciliation_type, reconciliation_date,
			performed_by, reviewed_by, status, source_list, target_list, discrepancies, resolutions,
			clinical_notes, pharmacist_review, organization_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		rec.ID, rec.ResidentID, rec.ReconciliationType, rec.ReconciliationDate,
		rec.PerformedBy, rec.ReviewedBy, rec.Status, sourceList, targetList, discrepancies,
		resolutions, rec.ClinicalNotes, review, rec.OrganizationID, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID, orgID string) (*ReconciliationRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM reconciliation_record WHERE id = $1 AND organization_id = $2`,
		id, orgID))
}

func (r *recordRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, orgID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reconciliation_record SET status = $3, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2`, id, orgID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendResolution rewrites the record's discrepancy and resolution state in
// one statement so the settled check cannot race a second resolver into a
// lost update.
func (r *recordRepoPG) AppendResolution(ctx context.Context, id uuid.UUID, rec *ReconciliationRecord, orgID string) error {
	_, _, discrepancies, resolutions, _, err := marshalAggregate(rec)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reconciliation_record SET discrepancies = $3, resolutions = $4, updated_at = $5
		WHERE id = $1 AND organization_id = $2`,
		id, orgID, discrepancies, resolutions, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoPG) AppendReview(ctx context.Context, id uuid.UUID, rec *ReconciliationRecord, orgID string) error {
	var review []byte
	if rec.PharmacistReview != nil {
		var err error
		if review, err = json.Marshal(rec.PharmacistReview); err != nil {
			return err
		}
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reconciliation_record SET pharmacist_review = $3, reviewed_by = $4, status = $5, updated_at = $6
		WHERE id = $1 AND organization_id = $2`,
		id, orgID, review, rec.ReviewedBy, rec.Status, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoPG) ListByResident(ctx context.Context, residentID uuid.UUID, orgID string, limit int) ([]*ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM reconciliation_record
		WHERE resident_id = $1 AND organization_id = $2
		ORDER BY reconciliation_date DESC LIMIT $3`, residentID, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ReconciliationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *recordRepoPG) ListByOrganization(ctx context.Context, orgID string, dateRange DateRange, limit, offset int) ([]*ReconciliationRecord, int, error) {
	where := `WHERE organization_id = $1`
	args := []interface{}{orgID}
	if !dateRange.From.IsZero() {
		args = append(args, dateRange.From)
		where += fmt.Sprintf(` AND reconciliation_date >= $%d`, len(args))
	}
	if !dateRange.To.IsZero() {
		args = append(args, dateRange.To)
		where += fmt.Sprintf(` AND reconciliation_date <= $%d`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reconciliation_record `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + recordCols + ` FROM reconciliation_record ` + where + ` ORDER BY reconciliation_date DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*ReconciliationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}
