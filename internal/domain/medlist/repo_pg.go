package medlist

import (
	"context"
	"errors"

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

type listRepoPG struct{ pool *pgxpool.Pool }

func NewListRepoPG(pool *pgxpool.Pool) ListRepository { return &listRepoPG{pool: pool} }

func (r *listRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const listCols = `id, resident_id, organization_id, name, generic_name, active_ingredient,
	strength, dosage, frequency, route, indication, prescriber, start_date, end_date,
	last_taken, adherence, is_active, created_at, updated_at`

func scanEntry(row pgx.Row) (*ListEntry, error) {
	var e ListEntry
	err := row.Scan(&e.ID, &e.ResidentID, &e.OrganizationID, &e.Name, &e.GenericName,
		&e.ActiveIngredient, &e.Strength, &e.Dosage, &e.Frequency, &e.Route,
		&e.Indication, &e.Prescriber, &e.StartDate, &e.EndDate, &e.LastTaken,
		&e.Adherence, &e.IsActive, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

func (r *listRepoPG) Create(ctx context.Context, e *ListEntry) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_list (id, resident_id, organization_id, name, generic_name,
			active_ingredient, strength, dosage, frequency, route, indication, prescriber,
			start_date, end_date, last_taken, adherence, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		e.ID, e.ResidentID, e.OrganizationID, e.Name, e.GenericName,
		e.ActiveIngredient, e.Strength, e.Dosage, e.Frequency, e.Route,
		e.Indication, e.Prescriber, e.StartDate, e.EndDate, e.LastTaken,
		e.Adherence, e.IsActive)
	return err
}

func (r *listRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ListEntry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+listCols+` FROM medication_list WHERE id = $1`, id))
}

func (r *listRepoPG) Update(ctx context.Context, e *ListEntry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_list SET dosage=$2, frequency=$3, route=$4, strength=$5,
			indication=$6, is_active=$7, end_date=$8, updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.Dosage, e.Frequency, e.Route, e.Strength, e.Indication, e.IsActive, e.EndDate)
	return err
}

func (r *listRepoPG) ListActiveByResident(ctx context.Context, residentID uuid.UUID, orgID string) ([]*ListEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+listCols+` FROM medication_list
		WHERE resident_id = $1 AND organization_id = $2 AND is_active = TRUE
		ORDER BY name`, residentID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*ListEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *listRepoPG) FindActiveByName(ctx context.Context, residentID uuid.UUID, orgID, name string) (*ListEntry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+listCols+` FROM medication_list
		WHERE resident_id = $1 AND organization_id = $2 AND is_active = TRUE
			AND (LOWER(name) = LOWER($3) OR LOWER(active_ingredient) = LOWER($3))
		LIMIT 1`, residentID, orgID, name))
}

func (r *listRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_list SET is_active = FALSE, end_date = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

type changeLogRepoPG struct{ pool *pgxpool.Pool }

func NewChangeLogRepoPG(pool *pgxpool.Pool) ChangeLogRepository { return &changeLogRepoPG{pool: pool} }

func (r *changeLogRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *changeLogRepoPG) Create(ctx context.Context, cl *ChangeLog) error {
	cl.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription_change (id, resident_id, organization_id, record_id,
			resolution_id, action, medication_name, new_value, applied_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		cl.ID, cl.ResidentID, cl.OrganizationID, cl.RecordID,
		cl.ResolutionID, cl.Action, cl.MedicationName, cl.NewValue, cl.AppliedBy)
	return err
}

func (r *changeLogRepoPG) ListByResident(ctx context.Context, residentID uuid.UUID, orgID string, limit int) ([]*ChangeLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, resident_id, organization_id, record_id, resolution_id, action,
			medication_name, new_value, applied_by, applied_at
		FROM prescription_change
		WHERE resident_id = $1 AND organization_id = $2
		ORDER BY applied_at DESC LIMIT $3`, residentID, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*ChangeLog
	for rows.Next() {
		var cl ChangeLog
		if err := rows.Scan(&cl.ID, &cl.ResidentID, &cl.OrganizationID, &cl.RecordID,
			&cl.ResolutionID, &cl.Action, &cl.MedicationName, &cl.NewValue,
			&cl.AppliedBy, &cl.AppliedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &cl)
	}
	return changes, rows.Err()
}
