// Package events delivers reconciliation domain events to subscribed HTTP
// endpoints. It supports subscription registration, HMAC-SHA256 payload
// signing, retry of failed deliveries, delivery logging, and an Echo HTTP
// handler for API exposure.
package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription represents a registered event destination.
type Subscription struct {
	ID             string            `json:"id"`
	URL            string            `json:"url"`
	Secret         string            `json:"secret,omitempty"`
	EventTypes     []string          `json:"event_types"`
	OrganizationID string            `json:"organization_id"`
	Status         string            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Delivery records a single delivery attempt for an event.
type Delivery struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscription_id"`
	EventType      string        `json:"event_type"`
	EventID        string        `json:"event_id"`
	Payload        []byte        `json:"payload"`
	Signature      string        `json:"signature"`
	StatusCode     int           `json:"status_code"`
	ResponseBody   string        `json:"response_body"`
	Duration       time.Duration `json:"duration_ns"`
	Attempt        int           `json:"attempt"`
	Status         string        `json:"status"` // "success", "failed", "pending"
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Envelope is the wire format POSTed to subscribers.
type Envelope struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	OrganizationID string          `json:"organization_id"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}

// DeliveryResult summarises the outcome of delivering an event to one subscriber.
type DeliveryResult struct {
	SubscriptionID string `json:"subscription_id"`
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code"`
	Error          string `json:"error,omitempty"`
}

// SubscriptionStore defines the persistence interface for subscriptions and
// delivery attempts.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, orgID string, limit, offset int) ([]*Subscription, int, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error)
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
}

// MemoryStore is a thread-safe, in-memory implementation of SubscriptionStore.
type MemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	deliveries    map[string]*Delivery
	// ordered keys for deterministic pagination
	subOrder      []string
	deliveryOrder []string
}

// NewMemoryStore creates a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]*Subscription),
		deliveries:    make(map[string]*Delivery),
	}
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = sub
	s.subOrder = append(s.subOrder, sub.ID)
	return nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	return sub, nil
}

func (s *MemoryStore) ListSubscriptions(_ context.Context, orgID string, limit, offset int) ([]*Subscription, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Subscription
	for _, id := range s.subOrder {
		sub := s.subscriptions[id]
		if sub == nil {
			continue
		}
		if orgID == "" || sub.OrganizationID == orgID {
			filtered = append(filtered, sub)
		}
	}
	total := len(filtered)
	if offset >= total {
		return []*Subscription{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (s *MemoryStore) UpdateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return fmt.Errorf("subscription %s not found", sub.ID)
	}
	s.subscriptions[sub.ID] = sub
	return nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[id]; !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(s.subscriptions, id)
	for i, sid := range s.subOrder {
		if sid == id {
			s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = d
	s.deliveryOrder = append(s.deliveryOrder, d.ID)
	return nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Delivery
	for _, id := range s.deliveryOrder {
		d := s.deliveries[id]
		if d == nil {
			continue
		}
		if d.SubscriptionID == subscriptionID {
			filtered = append(filtered, d)
		}
	}
	total := len(filtered)
	if offset >= total {
		return []*Delivery{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %s not found", id)
	}
	return d, nil
}

// SignPayload computes an HMAC-SHA256 signature of the payload using the given
// secret, returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the
// HMAC-SHA256 of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) ManagerOption {
	return func(m *Manager) { m.maxRetries = n }
}

// Manager orchestrates subscription registration, event delivery, and retries.
type Manager struct {
	store       SubscriptionStore
	httpClient  *http.Client
	maxRetries  int
	retryDelays []time.Duration
}

// NewManager creates a Manager with sensible defaults.
func NewManager(store SubscriptionStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries:  3,
		retryDelays: []time.Duration{1 * time.Second, 30 * time.Second, 5 * time.Minute},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// generateSecret produces a cryptographically random 32-byte hex string.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validateSubscriptionURL checks that the URL is non-empty and uses http or https.
func validateSubscriptionURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Subscribe validates and persists a new subscription. If secret is empty, a
// cryptographically random one is generated.
func (m *Manager) Subscribe(ctx context.Context, rawURL, secret, orgID string, eventTypes []string) (*Subscription, error) {
	if err := validateSubscriptionURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secret: %w", err)
		}
		secret = s
	}

	sub := &Subscription{
		ID:             uuid.New().String(),
		URL:            rawURL,
		Secret:         secret,
		EventTypes:     eventTypes,
		OrganizationID: orgID,
		Status:         "active",
		CreatedAt:      time.Now(),
		Metadata:       map[string]string{},
	}
	if err := m.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// PauseSubscription sets the subscription status to "paused".
func (m *Manager) PauseSubscription(ctx context.Context, id string) error {
	sub, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	sub.Status = "paused"
	return m.store.UpdateSubscription(ctx, sub)
}

// ResumeSubscription sets the subscription status to "active".
func (m *Manager) ResumeSubscription(ctx context.Context, id string) error {
	sub, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	sub.Status = "active"
	return m.store.UpdateSubscription(ctx, sub)
}

// eventMatches returns true if the event type matches a subscription pattern.
// Patterns can be exact ("medication_reconciliation_completed") or wildcard
// ("medication_reconciliation_*", "*_completed").
func eventMatches(pattern, eventType string) bool {
	if pattern == eventType || pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(eventType, pattern[1:])
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

// subscriptionMatches returns true if the subscription covers the event type.
func subscriptionMatches(sub *Subscription, eventType string) bool {
	for _, pat := range sub.EventTypes {
		if eventMatches(pat, eventType) {
			return true
		}
	}
	return false
}

// Deliver sends the event to all matching, active subscriptions for the
// organization.
func (m *Manager) Deliver(ctx context.Context, env Envelope) []DeliveryResult {
	subs, _, err := m.store.ListSubscriptions(ctx, env.OrganizationID, 1000, 0)
	if err != nil {
		return nil
	}

	var results []DeliveryResult
	for _, sub := range subs {
		if sub.Status != "active" {
			continue
		}
		if !subscriptionMatches(sub, env.Type) {
			continue
		}
		attempt := m.DeliverToSubscription(ctx, sub, env)
		results = append(results, DeliveryResult{
			SubscriptionID: sub.ID,
			Success:        attempt.Status == "success",
			StatusCode:     attempt.StatusCode,
			Error:          attempt.Error,
		})
	}
	return results
}

// DeliverToSubscription signs the payload and POSTs it to the subscriber,
// recording the result.
func (m *Manager) DeliverToSubscription(ctx context.Context, sub *Subscription, env Envelope) *Delivery {
	payload, _ := json.Marshal(env)
	sig := SignPayload(payload, sub.Secret)
	now := time.Now()

	attempt := &Delivery{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		EventType:      env.Type,
		EventID:        env.ID,
		Payload:        payload,
		Signature:      sig,
		Attempt:        1,
		Status:         "pending",
		CreatedAt:      now,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		attempt.Status = "failed"
		attempt.Error = err.Error()
		m.store.RecordDelivery(ctx, attempt)
		return attempt
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Signature", "sha256="+sig)
	req.Header.Set("X-Subscription-ID", sub.ID)
	req.Header.Set("X-Event-Timestamp", now.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	attempt.Duration = time.Since(start)

	if err != nil {
		attempt.Status = "failed"
		attempt.Error = err.Error()
		attempt.StatusCode = 0
		m.store.RecordDelivery(ctx, attempt)
		return attempt
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode

	// Read at most 1KB of response body.
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	attempt.ResponseBody = string(bodyBytes)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = "success"
	} else {
		attempt.Status = "failed"
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}

	m.store.RecordDelivery(ctx, attempt)
	return attempt
}

// RetryDelivery re-delivers a previously failed attempt, incrementing the
// attempt counter.
func (m *Manager) RetryDelivery(ctx context.Context, deliveryID string) (*Delivery, error) {
	original, err := m.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("delivery not found: %w", err)
	}

	sub, err := m.store.GetSubscription(ctx, original.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("subscription not found: %w", err)
	}

	// Reconstruct the envelope from the original delivery payload.
	var env Envelope
	if err := json.Unmarshal(original.Payload, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal original payload: %w", err)
	}

	attempt := m.DeliverToSubscription(ctx, sub, env)
	attempt.Attempt = original.Attempt + 1

	// Update stored delivery with correct attempt number.
	m.store.RecordDelivery(ctx, attempt)

	return attempt, nil
}

// TestSubscription sends a synthetic test event to verify connectivity.
func (m *Manager) TestSubscription(ctx context.Context, subscriptionID string) (*Delivery, error) {
	sub, err := m.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("subscription not found: %w", err)
	}

	testEnv := Envelope{
		ID:             uuid.New().String(),
		Type:           "subscription_test",
		EntityType:     "subscription",
		EntityID:       sub.ID,
		OrganizationID: sub.OrganizationID,
		Payload:        json.RawMessage(`{"test":true}`),
		Timestamp:      time.Now(),
	}

	return m.DeliverToSubscription(ctx, sub, testEnv), nil
}

// GetDeliveryLogs returns paginated delivery attempts for a subscription.
func (m *Manager) GetDeliveryLogs(ctx context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error) {
	return m.store.ListDeliveries(ctx, subscriptionID, limit, offset)
}
