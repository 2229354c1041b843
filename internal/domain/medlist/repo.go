package medlist

import (
	"context"

	"github.com/google/uuid"
)

type ListRepository interface {
	Create(ctx context.Context, e *ListEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*ListEntry, error)
	Update(ctx context.Context, e *ListEntry) error
	ListActiveByResident(ctx context.Context, residentID uuid.UUID, orgID string) ([]*ListEntry, error)
	FindActiveByName(ctx context.Context, residentID uuid.UUID, orgID, name string) (*ListEntry, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type ChangeLogRepository interface {
	Create(ctx context.Context, cl *ChangeLog) error
	ListByResident(ctx context.Context, residentID uuid.UUID, orgID string, limit int) ([]*ChangeLog, error)
}
