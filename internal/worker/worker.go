// Package worker runs eligibility requests arriving on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Evaluator runs one eligibility request end to end.
type Evaluator interface {
	Run(ctx context.Context, req *domain.EligibilityRequest) (*domain.EligibilityResponse, error)
}

// Invalidator drops cached tenant configuration.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID int64) error
}

// Worker subscribes to eligibility requests and configuration changes.
type Worker struct {
	bus         domain.EventBus
	evaluator   Evaluator
	invalidator Invalidator
	metrics     *metrics.Metrics

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs restricts processing to these tenants; empty means all tenants.
	TenantIDs []int64
}

// NewWorker creates a worker. invalidator and m may be nil.
func NewWorker(bus domain.EventBus, evaluator Evaluator, invalidator Invalidator, m *metrics.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:         bus,
		evaluator:   evaluator,
		invalidator: invalidator,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start subscribes for every configured tenant, or for all tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := []string{domain.AllTenants}
	if len(cfg.TenantIDs) > 0 {
		tenants = tenants[:0]
		for _, id := range cfg.TenantIDs {
			tenants = append(tenants, domain.TenantKey(id))
		}
	}

	for _, tenant := range tenants {
		if err := w.subscribe(tenant, domain.TopicEligibilityRequested, w.handleRequest); err != nil {
			return err
		}
		if err := w.subscribe(tenant, domain.TopicConfigChanged, w.handleConfigChanged); err != nil {
			return err
		}
	}

	slog.Info("workers started", "tenants", tenants)
	return nil
}

func (w *Worker) subscribe(tenant, topic string, handler domain.MessageHandler) error {
	sub, err := w.bus.Subscribe(w.ctx, tenant, topic, handler)
	if err != nil {
		return fmt.Errorf("subscribe %s for tenant %s: %w", topic, tenant, err)
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
	return nil
}

// RequestMessage is the payload of TopicEligibilityRequested.
type RequestMessage struct {
	RequestID string            `json:"requestId"`
	Inputs    map[string]string `json:"inputs"`
}

// ConfigChangedMessage is the optional payload of TopicConfigChanged.
type ConfigChangedMessage struct {
	Reason string `json:"reason,omitempty"`
}

// handleRequest evaluates one request. Replies go to reply_to when present;
// decisions are published by the pipeline itself.
func (w *Worker) handleRequest(ctx context.Context, msg *domain.Message) error {
	tenantID, err := parseTenant(msg.TenantID)
	if err != nil {
		return err
	}

	var body RequestMessage
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		slog.Error("failed to parse eligibility request",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}
	if body.RequestID == "" {
		body.RequestID = msg.ID
	}

	resp, err := w.evaluator.Run(ctx, &domain.EligibilityRequest{
		TenantID:  tenantID,
		RequestID: body.RequestID,
		Inputs:    body.Inputs,
	})
	if err != nil {
		return fmt.Errorf("evaluate request %s: %w", body.RequestID, err)
	}

	if replyTo := msg.Metadata[domain.MetaReplyTo]; replyTo != "" {
		payload, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return w.bus.Publish(ctx, msg.TenantID, replyTo, payload)
	}
	return nil
}

func (w *Worker) handleConfigChanged(ctx context.Context, msg *domain.Message) error {
	if w.invalidator == nil {
		return nil
	}
	tenantID, err := parseTenant(msg.TenantID)
	if err != nil {
		return err
	}
	var body ConfigChangedMessage
	if len(msg.Payload) > 0 {
		_ = json.Unmarshal(msg.Payload, &body)
	}
	if err := w.invalidator.Invalidate(ctx, tenantID); err != nil {
		return fmt.Errorf("invalidate tenant %d: %w", tenantID, err)
	}
	w.metrics.IncSnapshotInvalidations()
	slog.Info("tenant configuration invalidated", "tenant_id", tenantID, "reason", body.Reason)
	return nil
}

func parseTenant(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tenant id %q", s)
	}
	return id, nil
}

// Stop unsubscribes everything and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{SubscriptionCount: len(w.subscriptions), Topics: topics}
}
