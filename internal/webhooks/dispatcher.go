package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"automation-engine/internal/models"
	"automation-engine/internal/telemetry"
)

// Subscriber verification depends on the body bytes being stable, so the
// envelope is serialized exactly once per dispatch and the timestamp keeps
// millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SubscriptionSource loads the enabled subscriptions for an event type.
// Satisfied by *store.Store.
type SubscriptionSource interface {
	EnabledSubscriptions(ctx context.Context, orgID, eventType string) ([]models.WebhookSubscription, error)
}

// Dispatcher signs and delivers event payloads to registered external
// endpoints.
type Dispatcher struct {
	subs   SubscriptionSource
	client *http.Client
}

func NewDispatcher(subs SubscriptionSource, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		subs:   subs,
		client: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// EncodeBody builds the canonical wire body for an event.
func EncodeBody(ev models.Event) ([]byte, error) {
	data := ev.Payload
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(envelope{
		ID:        ev.ID,
		Type:      ev.Type,
		Timestamp: ev.CreatedAt.UTC().Format(timestampLayout),
		Data:      data,
	})
}

// Dispatch delivers the event to every enabled subscriber of its type within
// the org; no-op when there are none. Deliveries run concurrently with no
// cross-subscriber ordering. Any single non-2xx response or transport error
// fails the whole call with no partial-success bookkeeping, which pushes the
// originating event into the worker's retry path and re-delivers to every
// subscriber on the next attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) error {
	subs, err := d.subs.EnabledSubscriptions(ctx, ev.OrgID, ev.Type)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := EncodeBody(ev)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			return d.deliver(ctx, sub, ev, body)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, sub models.WebhookSubscription, ev models.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", sub.URL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Automation-Signature", Sign(sub.Secret, body))
	req.Header.Set("X-Automation-Event", ev.Type)
	req.Header.Set("X-Automation-Delivery", ev.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		telemetry.WebhookFailures.Inc()
		return fmt.Errorf("deliver to %s: %w", sub.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.WebhookFailures.Inc()
		return fmt.Errorf("deliver to %s: HTTP %d", sub.URL, resp.StatusCode)
	}
	telemetry.WebhookDeliveries.Inc()
	return nil
}
