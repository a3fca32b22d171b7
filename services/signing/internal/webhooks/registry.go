package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

var knownEvents = map[string]bool{
	domain.EventSignatureCreated: true,
	domain.EventCompleted:        true,
	domain.EventLocked:           true,
	domain.EventStatusChanged:    true,
	"*":                          true,
}

// Register subscribes endpoint to events. An empty secret gets a generated
// one, returned on the webhook so the caller can store it.
func (d *Dispatcher) Register(ctx context.Context, endpoint string, events []string, secret string) (domain.Webhook, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Webhook{}, domain.Malformed("webhook url must be an absolute http(s) url")
	}
	if len(events) == 0 {
		return domain.Webhook{}, domain.Malformed("webhook needs at least one event type")
	}
	for _, e := range events {
		if !knownEvents[e] {
			return domain.Webhook{}, domain.Malformed(fmt.Sprintf("unknown event type %q", e))
		}
	}
	if strings.TrimSpace(secret) == "" {
		if secret, err = domain.NewLinkToken(); err != nil {
			return domain.Webhook{}, err
		}
	}
	w := domain.Webhook{
		ID:        domain.NewID(domain.PrefixWebhook),
		URL:       u.String(),
		Secret:    secret,
		Events:    append([]string(nil), events...),
		Active:    true,
		CreatedAt: d.now().UTC(),
	}
	if err := d.repo.CreateWebhook(ctx, w); err != nil {
		return domain.Webhook{}, err
	}
	d.logger.Info("webhook registered", zap.String("webhook_id", w.ID), zap.Strings("events", w.Events))
	return w, nil
}

// Event returns a webhook event with its delivery attempts, oldest first.
func (d *Dispatcher) Event(ctx context.Context, eventID string) (domain.WebhookEvent, []domain.WebhookDeliveryLog, error) {
	ev, err := d.repo.GetWebhookEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.WebhookEvent{}, nil, domain.NotFound("webhook event", eventID)
		}
		return domain.WebhookEvent{}, nil, err
	}
	logs, err := d.repo.ListDeliveryLogs(ctx, eventID)
	if err != nil {
		return domain.WebhookEvent{}, nil, err
	}
	return ev, logs, nil
}
