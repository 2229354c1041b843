package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL-backed SubscriptionStore. Subscriptions and
// delivery attempts live in event_subscription and event_delivery.
type PGStore struct{ pool *pgxpool.Pool }

// NewPGStore creates a PostgreSQL-backed subscription store.
func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

const subscriptionCols = `id, url, secret, event_types, organization_id, status, metadata, created_at`

func (s *PGStore) scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	var metadata []byte
	err := row.Scan(&sub.ID, &sub.URL, &sub.Secret, &sub.EventTypes,
		&sub.OrganizationID, &sub.Status, &metadata, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("subscription not found")
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &sub, nil
}

func (s *PGStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO event_subscription (id, url, secret, event_types, organization_id, status, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sub.ID, sub.URL, sub.Secret, sub.EventTypes, sub.OrganizationID,
		sub.Status, metadata, sub.CreatedAt)
	return err
}

func (s *PGStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	return s.scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionCols+` FROM event_subscription WHERE id = $1`, id))
}

func (s *PGStore) ListSubscriptions(ctx context.Context, orgID string, limit, offset int) ([]*Subscription, int, error) {
	where := ``
	args := []interface{}{}
	if orgID != "" {
		args = append(args, orgID)
		where = ` WHERE organization_id = $1`
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM event_subscription`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit)
	query := `SELECT ` + subscriptionCols + ` FROM event_subscription` + where +
		fmt.Sprintf(` ORDER BY created_at LIMIT $%d`, len(args))
	args = append(args, offset)
	query += fmt.Sprintf(` OFFSET $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	subs := []*Subscription{}
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, 0, err
		}
		subs = append(subs, sub)
	}
	return subs, total, rows.Err()
}

func (s *PGStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE event_subscription SET url = $2, secret = $3, event_types = $4, status = $5, metadata = $6
		WHERE id = $1`,
		sub.ID, sub.URL, sub.Secret, sub.EventTypes, sub.Status, metadata)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s not found", sub.ID)
	}
	return nil
}

func (s *PGStore) DeleteSubscription(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM event_subscription WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s not found", id)
	}
	return nil
}

const deliveryCols = `id, subscription_id, event_type, event_id, payload, signature,
	status_code, response_body, duration_ns, attempt, status, error, created_at`

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	var errMsg *string
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.EventID, &d.Payload,
		&d.Signature, &d.StatusCode, &d.ResponseBody, &d.Duration, &d.Attempt,
		&d.Status, &errMsg, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("delivery not found")
		}
		return nil, err
	}
	if errMsg != nil {
		d.Error = *errMsg
	}
	return &d, nil
}

// RecordDelivery upserts so retry attempts overwrite the original row with the
// incremented attempt counter.
func (s *PGStore) RecordDelivery(ctx context.Context, d *Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_delivery (id, subscription_id, event_type, event_id, payload, signature,
			status_code, response_body, duration_ns, attempt, status, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			status_code = EXCLUDED.status_code, response_body = EXCLUDED.response_body,
			duration_ns = EXCLUDED.duration_ns, attempt = EXCLUDED.attempt,
			status = EXCLUDED.status, error = EXCLUDED.error`,
		d.ID, d.SubscriptionID, d.EventType, d.EventID, d.Payload, d.Signature,
		d.StatusCode, d.ResponseBody, d.Duration, d.Attempt, d.Status, d.Error, d.CreatedAt)
	return err
}

func (s *PGStore) ListDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM event_delivery WHERE subscription_id = $1`, subscriptionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryCols+` FROM event_delivery
		WHERE subscription_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		subscriptionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	deliveries := []*Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, total, rows.Err()
}

func (s *PGStore) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	return scanDelivery(s.pool.QueryRow(ctx,
		`SELECT `+deliveryCols+` FROM event_delivery WHERE id = $1`, id))
}
