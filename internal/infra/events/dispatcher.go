package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rewardline/entitle/internal/domain"
	"github.com/rewardline/entitle/internal/infra/observability"
	"github.com/rewardline/entitle/internal/infra/sqlite"
)

// ─── Outbox Dispatcher ──────────────────────────────────────────────────────
// Delivery is at-least-once: an event is published before it is marked, so a
// crash in between republishes it. Consumers key on the outbox id.

// PendingStore is the outbox read/ack side.
type PendingStore interface {
	PendingEvents(ctx context.Context, limit int) ([]sqlite.StoredEvent, error)
	MarkEventsPublished(ctx context.Context, ids []int64) error
}

// Publisher delivers one stored event downstream.
type Publisher func(ctx context.Context, e sqlite.StoredEvent) error

// DispatchResult counts one dispatch cycle.
type DispatchResult struct {
	Processed int
	Published int
	Failed    int
}

// Dispatcher drains the outbox into a publisher.
type Dispatcher struct {
	store   PendingStore
	publish Publisher
	logger  *zap.Logger
	batch   int
}

// NewDispatcher creates a dispatcher that handles up to batch events a cycle.
func NewDispatcher(store PendingStore, publish Publisher, batch int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batch < 1 {
		batch = 100
	}
	return &Dispatcher{store: store, publish: publish, logger: logger.Named("outbox"), batch: batch}
}

// DispatchOnce publishes the oldest pending events. A failed event stays
// pending for the next cycle; later events are still attempted.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	pending, err := d.store.PendingEvents(ctx, d.batch)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("list pending events: %w", err)
	}

	var res DispatchResult
	published := make([]int64, 0, len(pending))
	for _, e := range pending {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		if err := d.publish(ctx, e); err != nil {
			res.Failed++
			d.logger.Warn("publish failed",
				zap.Int64("event_id", e.ID),
				zap.String("kind", string(e.Event.Kind)),
				zap.Error(err))
			continue
		}
		published = append(published, e.ID)
	}
	res.Published = len(published)

	observability.OutboxDispatched.WithLabelValues("published").Add(float64(res.Published))
	observability.OutboxDispatched.WithLabelValues("failed").Add(float64(res.Failed))

	if err := d.store.MarkEventsPublished(context.WithoutCancel(ctx), published); err != nil {
		d.logger.Error("events published but not marked; they will be redelivered",
			zap.Int("count", len(published)), zap.Error(err))
		return res, fmt.Errorf("mark published: %w", err)
	}
	return res, nil
}

// Run dispatches every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.logger.Error("dispatch cycle failed", zap.Error(err))
			}
		}
	}
}

// ─── Publishers ─────────────────────────────────────────────────────────────

// LogPublisher writes each event to the notifications logger. Used when no
// webhook is configured.
func LogPublisher(logger *zap.Logger) Publisher {
	logger = logger.Named("notify")
	return func(_ context.Context, e sqlite.StoredEvent) error {
		logger.Info("member notification",
			zap.Int64("event_id", e.ID),
			zap.String("kind", string(e.Event.Kind)),
			zap.String("user_id", e.Event.UserID),
			zap.String("allocation_id", e.Event.AllocationID))
		return nil
	}
}

// webhookPayload is the body POSTed per event.
type webhookPayload struct {
	ID    int64        `json:"id"`
	Event domain.Event `json:"event"`
}

// WebhookPublisher POSTs each event as JSON to url. Any non-2xx response is
// a failure and the event is retried next cycle.
func WebhookPublisher(client *http.Client, url string) Publisher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, e sqlite.StoredEvent) error {
		body, err := json.Marshal(webhookPayload{ID: e.ID, Event: e.Event})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", fmt.Sprintf("entitle-event-%d", e.ID))

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("webhook returned %s", resp.Status)
		}
		return nil
	}
}
