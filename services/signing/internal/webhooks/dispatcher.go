// Package webhooks fires signed notifications at subscribed endpoints. The
// request path only records and enqueues events; a worker pool delivers them
// and a timer-driven scheduler re-enqueues due retries.
package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/canonhash"
	wire "github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/webhooks"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

type Dispatcher struct {
	repo   store.WebhookRepository
	client *http.Client
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	queue  chan string
	wg     sync.WaitGroup
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func WithHTTPClient(c *http.Client) Option { return func(d *Dispatcher) { d.client = c } }

func New(repo store.WebhookRepository, cfg Config, logger *zap.Logger, opts ...Option) *Dispatcher {
	cfg = cfg.normalized()
	d := &Dispatcher{
		repo:   repo,
		client: &http.Client{},
		cfg:    cfg,
		logger: logger.With(zap.String("component", "webhooks")),
		now:    time.Now,
		queue:  make(chan string, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger records one pending event per active webhook subscribed to
// eventType and enqueues them for delivery. It never sends anything itself.
func (d *Dispatcher) Trigger(ctx context.Context, eventType string, payload map[string]any) ([]string, error) {
	hooks, err := d.repo.ListActiveWebhooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	var ids []string
	for _, w := range hooks {
		if !w.Subscribed(eventType) {
			continue
		}
		ev := domain.WebhookEvent{
			ID:        domain.NewID(domain.PrefixWebhookEvent),
			WebhookID: w.ID,
			EventType: eventType,
			Payload:   payload,
			Status:    domain.WebhookPending,
		}
		if err := d.repo.CreateWebhookEvent(ctx, ev); err != nil {
			return ids, fmt.Errorf("record webhook event: %w", err)
		}
		ids = append(ids, ev.ID)
		d.enqueue(ev.ID)
	}
	if len(ids) > 0 {
		d.logger.Debug("webhook events recorded", zap.String("event_type", eventType), zap.Int("count", len(ids)))
	}
	return ids, nil
}

// enqueue never blocks the caller. A full queue leaves the event pending for
// the scheduler.
func (d *Dispatcher) enqueue(id string) {
	select {
	case d.queue <- id:
	default:
		d.logger.Warn("webhook queue full, deferring to scheduler", zap.String("webhook_event_id", id))
	}
}

// Redeliver puts a failed event back in line. Lifetime counters are left
// as they are.
func (d *Dispatcher) Redeliver(ctx context.Context, eventID string) error {
	changed, err := d.repo.RequeueWebhookEvent(ctx, eventID, d.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("webhook event", eventID)
		}
		return err
	}
	if !changed {
		return domain.ErrNotRedeliverable
	}
	d.enqueue(eventID)
	return nil
}

// Deliver makes one attempt for eventID if it is due and not leased by
// another worker. Failures are recorded on the event, not returned.
func (d *Dispatcher) Deliver(ctx context.Context, eventID string) error {
	now := d.now().UTC()
	ev, ok, err := d.repo.ClaimWebhookEvent(ctx, eventID, now, d.cfg.Lease)
	if err != nil {
		return fmt.Errorf("claim webhook event: %w", err)
	}
	if !ok {
		return nil
	}
	w, err := d.repo.GetWebhook(ctx, ev.WebhookID)
	if err != nil {
		return fmt.Errorf("load webhook: %w", err)
	}

	attempt := ev.AttemptCount + 1
	log := domain.WebhookDeliveryLog{
		ID:      "dlv_" + ulid.Make().String(),
		EventID: ev.ID,
		Attempt: attempt,
	}
	status, body, sendErr := d.send(ctx, w, ev, now, &log)
	log.Error = storableText(log.Error, d.cfg.MaxResponseBody)
	log.Success = sendErr == nil && status >= 200 && status < 300

	ev.AttemptCount = attempt
	switch {
	case log.Success:
		ev.Status = domain.WebhookDelivered
		ev.DeliveredAt = &now
		ev.NextRetryAt = nil
		ev.LastError = ""
	default:
		if sendErr != nil {
			ev.LastError = sendErr.Error()
		} else {
			ev.LastError = fmt.Sprintf("HTTP %d: %s", status, body)
		}
		ev.LastError = storableText(ev.LastError, d.cfg.MaxResponseBody+len("HTTP 000: "))
		if attempt < d.cfg.MaxAttempts {
			next := now.Add(d.cfg.retryDelay(attempt))
			ev.Status = domain.WebhookRetrying
			ev.NextRetryAt = &next
		} else {
			ev.Status = domain.WebhookFailed
			ev.NextRetryAt = nil
		}
	}

	if err := d.repo.CompleteAttempt(ctx, ev, log); err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}
	fields := []zap.Field{
		zap.String("webhook_event_id", ev.ID),
		zap.String("webhook_id", w.ID),
		zap.Int("attempt", attempt),
		zap.String("status", string(ev.Status)),
	}
	switch ev.Status {
	case domain.WebhookDelivered:
		d.logger.Info("webhook delivered", fields...)
	case domain.WebhookRetrying:
		d.logger.Warn("webhook delivery failed, retry scheduled", append(fields, zap.Time("next_retry_at", *ev.NextRetryAt), zap.String("error", ev.LastError))...)
	default:
		d.logger.Warn("webhook delivery failed permanently", append(fields, zap.String("error", ev.LastError))...)
	}
	return nil
}

// Body builds the signed wire body: the payload plus delivery metadata,
// rendered as canonical JSON.
func Body(w domain.Webhook, ev domain.WebhookEvent, at time.Time) ([]byte, error) {
	out := make(map[string]any, len(ev.Payload)+3)
	for k, v := range ev.Payload {
		out[k] = v
	}
	out[wire.FieldWebhookID] = w.ID
	out[wire.FieldEventType] = ev.EventType
	out[wire.FieldTimestamp] = at.UTC().Format(time.RFC3339Nano)
	return canonhash.Canonicalize(out)
}

func (d *Dispatcher) send(ctx context.Context, w domain.Webhook, ev domain.WebhookEvent, now time.Time, log *domain.WebhookDeliveryLog) (int, string, error) {
	body, err := Body(w, ev, now)
	if err != nil {
		return 0, "", fmt.Errorf("encode payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		log.Error = err.Error()
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(wire.SignatureHeader, wire.SignBody(w.Secret, body))
	req.Header.Set(wire.EventHeader, ev.EventType)
	req.Header.Set(wire.DeliveryHeader, ev.ID)

	start := time.Now()
	resp, err := d.client.Do(req)
	log.Duration = time.Since(start)
	if err != nil {
		log.Error = err.Error()
		return 0, "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, int64(d.cfg.MaxResponseBody)))
	code := resp.StatusCode
	log.StatusCode = &code
	log.ResponseBody = storableText(string(raw), d.cfg.MaxResponseBody)
	return code, log.ResponseBody, nil
}

// storableText makes receiver-supplied text safe for a TEXT column: valid
// UTF-8, no NUL bytes, at most limit bytes without splitting a rune.
func storableText(s string, limit int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Start launches the worker pool and the retry scheduler. They stop when ctx
// is cancelled; Wait blocks until they have.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runScheduler(ctx)
	}()
}

func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			if err := d.Deliver(ctx, id); err != nil && ctx.Err() == nil {
				d.logger.Error("webhook delivery error", zap.String("webhook_event_id", id), zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.EnqueueDue(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("webhook retry scan failed", zap.Error(err))
			}
		}
	}
}

// EnqueueDue hands every due pending or retrying event to the workers and
// returns how many it queued.
func (d *Dispatcher) EnqueueDue(ctx context.Context) (int, error) {
	ids, err := d.repo.ListDueWebhookEvents(ctx, d.now().UTC(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case d.queue <- id:
			n++
		}
	}
	return n, nil
}
