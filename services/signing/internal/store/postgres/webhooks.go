package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

const webhookColumns = `id,url,secret,events,active,successful_deliveries,failed_deliveries,last_triggered_at,created_at`

func scanWebhook(row pgx.Row) (domain.Webhook, error) {
	var w domain.Webhook
	err := row.Scan(&w.ID, &w.URL, &w.Secret, &w.Events, &w.Active, &w.SuccessfulDeliveries, &w.FailedDeliveries, &w.LastTriggeredAt, &w.CreatedAt)
	return w, mapErr(err)
}

func (r *repo) CreateWebhook(ctx context.Context, w domain.Webhook) error {
	events := w.Events
	if events == nil {
		events = []string{}
	}
	_, err := r.q.Exec(ctx, `
INSERT INTO webhooks(id,url,secret,events,active) VALUES($1,$2,$3,$4,$5)
`, w.ID, w.URL, w.Secret, events, w.Active)
	return mapErr(err)
}

func (r *repo) GetWebhook(ctx context.Context, id string) (domain.Webhook, error) {
	return scanWebhook(r.q.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id=$1`, id))
}

func (r *repo) ListActiveWebhooks(ctx context.Context) ([]domain.Webhook, error) {
	rows, err := r.q.Query(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE active ORDER BY id`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

const webhookEventColumns = `id,webhook_id,event_type,payload,status,attempt_count,next_retry_at,last_error,delivered_at,claimed_until,counted,created_at`

func scanWebhookEvent(row pgx.Row) (domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	var payload []byte
	var status string
	if err := row.Scan(&ev.ID, &ev.WebhookID, &ev.EventType, &payload, &status, &ev.AttemptCount, &ev.NextRetryAt,
		&ev.LastError, &ev.DeliveredAt, &ev.ClaimedUntil, &ev.Counted, &ev.CreatedAt); err != nil {
		return domain.WebhookEvent{}, mapErr(err)
	}
	ev.Status = domain.WebhookEventStatus(status)
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&ev.Payload); err != nil {
		return domain.WebhookEvent{}, err
	}
	return ev, nil
}

func (r *repo) CreateWebhookEvent(ctx context.Context, ev domain.WebhookEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	return r.atomic(ctx, func(q querier) error {
		if _, err := q.Exec(ctx, `
INSERT INTO webhook_events(id,webhook_id,event_type,payload,status,attempt_count,next_retry_at,last_error)
VALUES($1,$2,$3,$4::jsonb,$5,$6,$7,$8)
`, ev.ID, ev.WebhookID, ev.EventType, string(payload), string(ev.Status), ev.AttemptCount, ev.NextRetryAt, ev.LastError); err != nil {
			return mapErr(err)
		}
		_, err := q.Exec(ctx, `UPDATE webhooks SET last_triggered_at=now() WHERE id=$1`, ev.WebhookID)
		return mapErr(err)
	})
}

func (r *repo) GetWebhookEvent(ctx context.Context, id string) (domain.WebhookEvent, error) {
	return scanWebhookEvent(r.q.QueryRow(ctx, `SELECT `+webhookEventColumns+` FROM webhook_events WHERE id=$1`, id))
}

const dueCondition = `status IN ('pending','retrying')
  AND (claimed_until IS NULL OR claimed_until <= $1)
  AND (status <> 'retrying' OR next_retry_at IS NULL OR next_retry_at <= $1)`

func (r *repo) ClaimWebhookEvent(ctx context.Context, id string, now time.Time, lease time.Duration) (domain.WebhookEvent, bool, error) {
	ev, err := scanWebhookEvent(r.q.QueryRow(ctx, `
UPDATE webhook_events SET claimed_until=$3
WHERE id=$2 AND `+dueCondition+`
RETURNING `+webhookEventColumns, now, id, now.Add(lease)))
	if err == nil {
		return ev, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.WebhookEvent{}, false, err
	}
	ev, err = r.GetWebhookEvent(ctx, id)
	if err != nil {
		return domain.WebhookEvent{}, false, err
	}
	return ev, false, nil
}

func (r *repo) CompleteAttempt(ctx context.Context, ev domain.WebhookEvent, log domain.WebhookDeliveryLog) error {
	terminal := ev.Status.Terminal()
	return r.atomic(ctx, func(q querier) error {
		var bump bool
		err := q.QueryRow(ctx, `
WITH prev AS (SELECT id, counted FROM webhook_events WHERE id=$1 FOR UPDATE)
UPDATE webhook_events e
SET status=$2, attempt_count=$3, next_retry_at=$4, last_error=$5, delivered_at=$6,
    claimed_until=NULL, counted = prev.counted OR $7
FROM prev WHERE e.id=prev.id
RETURNING (NOT prev.counted) AND $7
`, ev.ID, string(ev.Status), ev.AttemptCount, ev.NextRetryAt, ev.LastError, ev.DeliveredAt, terminal).Scan(&bump)
		if err != nil {
			return mapErr(err)
		}
		if bump {
			column := "failed_deliveries"
			if ev.Status == domain.WebhookDelivered {
				column = "successful_deliveries"
			}
			if _, err := q.Exec(ctx, `UPDATE webhooks SET `+column+`=`+column+`+1 WHERE id=$1`, ev.WebhookID); err != nil {
				return mapErr(err)
			}
		}
		_, err = q.Exec(ctx, `
INSERT INTO webhook_delivery_logs(id,event_id,attempt,status_code,response_body,error,duration_ms,success)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
`, log.ID, log.EventID, log.Attempt, log.StatusCode, log.ResponseBody, log.Error, log.Duration.Milliseconds(), log.Success)
		return mapErr(err)
	})
}

func (r *repo) ListDueWebhookEvents(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.q.Query(ctx, `
SELECT id FROM webhook_events
WHERE `+dueCondition+`
ORDER BY created_at, id
LIMIT NULLIF($2::bigint, 0)
`, now, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repo) ListDeliveryLogs(ctx context.Context, eventID string) ([]domain.WebhookDeliveryLog, error) {
	rows, err := r.q.Query(ctx, `
SELECT id,event_id,attempt,status_code,response_body,error,duration_ms,success,created_at
FROM webhook_delivery_logs WHERE event_id=$1 ORDER BY attempt, created_at
`, eventID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []domain.WebhookDeliveryLog
	for rows.Next() {
		var l domain.WebhookDeliveryLog
		var ms int64
		if err := rows.Scan(&l.ID, &l.EventID, &l.Attempt, &l.StatusCode, &l.ResponseBody, &l.Error, &ms, &l.Success, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repo) RequeueWebhookEvent(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
UPDATE webhook_events SET status='retrying', next_retry_at=$2, claimed_until=NULL
WHERE id=$1 AND status='failed'
`, id, now)
	if err != nil {
		return false, mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetWebhookEvent(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
