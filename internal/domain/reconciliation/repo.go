package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DateRange bounds a metrics or history query. Zero values mean unbounded.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// RecordRepository persists reconciliation records. All reads and writes are
// tenant-scoped by organization id; implementations must make single-record
// writes atomic so the all-discrepancies-resolved check cannot race a second
// resolver into a lost update.
type RecordRepository interface {
	Save(ctx context.Context, rec *ReconciliationRecord) error
	GetByID(ctx context.Context, id uuid.UUID, orgID string) (*ReconciliationRecord, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, orgID string) error
	AppendResolution(ctx context.Context, id uuid.UUID, rec *ReconciliationRecord, orgID string) error
	AppendReview(ctx context.Context, id uuid.UUID, rec *ReconciliationRecord, orgID string) error
	ListByResident(ctx context.Context, residentID uuid.UUID, orgID string, limit int) ([]*ReconciliationRecord, error)
	ListByOrganization(ctx context.Context, orgID string, dateRange DateRange, limit, offset int) ([]*ReconciliationRecord, int, error)
}
