package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrec/medrec/internal/domain/reconciliation"
)

// Publisher adapts the Manager to the reconciliation workflow's
// EventPublisher interface.
type Publisher struct {
	manager *Manager
	log     zerolog.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(manager *Manager, log zerolog.Logger) *Publisher {
	return &Publisher{manager: manager, log: log}
}

var _ reconciliation.EventPublisher = (*Publisher)(nil)

// Publish wraps the domain event in a delivery envelope and fans it out to
// all matching subscriptions. Individual endpoint failures are recorded in
// the delivery log and do not fail the publish; an error is returned only
// when the event cannot be serialized.
func (p *Publisher) Publish(ctx context.Context, e reconciliation.Event) error {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("events: marshal payload: %w", err)
	}

	env := Envelope{
		ID:             uuid.New().String(),
		Type:           e.EventType,
		EntityType:     e.EntityType,
		EntityID:       e.EntityID.String(),
		OrganizationID: e.OrganizationID,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
	}

	results := p.manager.Deliver(ctx, env)
	for _, r := range results {
		if !r.Success {
			p.log.Warn().
				Str("event_type", e.EventType).
				Str("subscription_id", r.SubscriptionID).
				Int("status_code", r.StatusCode).
				Str("error", r.Error).
				Msg("event delivery failed")
		}
	}

	p.log.Debug().
		Str("event_type", e.EventType).
		Str("entity_id", e.EntityID.String()).
		Int("subscribers", len(results)).
		Msg("event published")
	return nil
}
