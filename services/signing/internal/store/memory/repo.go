package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

type repo struct {
	st  *state
	now func() time.Time
	// mu is nil inside a transaction, where the store mutex is already held.
	mu *sync.Mutex
}

func (r *repo) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *repo) clock() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// Documents and fields.

func (r *repo) CreateDocument(ctx context.Context, doc domain.Document) error {
	defer r.lock()()
	if _, ok := r.st.documents[doc.ID]; ok {
		return store.ErrUniqueViolation
	}
	now := r.clock()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	r.st.documents[doc.ID] = doc
	return nil
}

func (r *repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	defer r.lock()()
	doc, ok := r.st.documents[id]
	if !ok {
		return domain.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (r *repo) LockDocument(ctx context.Context, id string) (domain.Document, error) {
	return r.GetDocument(ctx, id)
}

func (r *repo) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	defer r.lock()()
	doc, ok := r.st.documents[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Status = status
	doc.UpdatedAt = r.clock()
	r.st.documents[id] = doc
	return nil
}

func (r *repo) SetSignedArtifact(ctx context.Context, id, key, sha256 string) (bool, error) {
	defer r.lock()()
	doc, ok := r.st.documents[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if doc.SignedFileKey != "" {
		return false, nil
	}
	doc.SignedFileKey = key
	doc.SignedFileSHA256 = sha256
	doc.UpdatedAt = r.clock()
	r.st.documents[id] = doc
	return true, nil
}

func (r *repo) CreateField(ctx context.Context, f domain.Field) error {
	defer r.lock()()
	if _, ok := r.st.documents[f.DocumentID]; !ok {
		return fmt.Errorf("create field: document %s: %w", f.DocumentID, store.ErrNotFound)
	}
	if _, ok := r.st.fields[f.ID]; ok {
		return store.ErrUniqueViolation
	}
	r.st.fields[f.ID] = f
	r.st.fieldOrder = append(r.st.fieldOrder, f.ID)
	return nil
}

func (r *repo) ListFields(ctx context.Context, documentID string) ([]domain.Field, error) {
	defer r.lock()()
	var out []domain.Field
	for _, id := range r.st.fieldOrder {
		if f := r.st.fields[id]; f.DocumentID == documentID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *repo) LockFields(ctx context.Context, documentID string) ([]domain.Field, error) {
	return r.ListFields(ctx, documentID)
}

func (r *repo) FillFields(ctx context.Context, documentID string, values []domain.FieldValue) (int, error) {
	defer r.lock()()
	n := 0
	for _, v := range values {
		f, ok := r.st.fields[v.FieldID]
		if !ok || f.DocumentID != documentID || f.Locked {
			continue
		}
		value := v.Value
		f.Value = &value
		f.Locked = true
		r.st.fields[f.ID] = f
		n++
	}
	return n, nil
}

// Tokens.

func (r *repo) CreateToken(ctx context.Context, t domain.SigningToken) error {
	defer r.lock()()
	if _, ok := r.st.tokens[t.Token]; ok {
		return store.ErrUniqueViolation
	}
	if t.Active() {
		for _, other := range r.st.tokens {
			if other.Active() && other.DocumentID == t.DocumentID && other.Recipient == t.Recipient {
				return store.ErrUniqueViolation
			}
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.clock()
	}
	r.st.tokens[t.Token] = t
	return nil
}

func (r *repo) GetToken(ctx context.Context, token string) (domain.SigningToken, error) {
	defer r.lock()()
	t, ok := r.st.tokens[token]
	if !ok {
		return domain.SigningToken{}, store.ErrNotFound
	}
	return t, nil
}

func (r *repo) LockToken(ctx context.Context, token string) (domain.SigningToken, error) {
	return r.GetToken(ctx, token)
}

func (r *repo) FindActiveSignToken(ctx context.Context, documentID, recipient string) (domain.SigningToken, error) {
	defer r.lock()()
	for _, t := range r.st.tokens {
		if t.Active() && t.DocumentID == documentID && t.Recipient == recipient {
			return t, nil
		}
	}
	return domain.SigningToken{}, store.ErrNotFound
}

func (r *repo) ConsumeToken(ctx context.Context, id string) (bool, error) {
	defer r.lock()()
	for key, t := range r.st.tokens {
		if t.ID != id {
			continue
		}
		if t.Scope != domain.ScopeSign || t.Used {
			return false, nil
		}
		t.Scope = domain.ScopeView
		t.Used = true
		r.st.tokens[key] = t
		return true, nil
	}
	return false, store.ErrNotFound
}

func (r *repo) RevokeToken(ctx context.Context, token string) (bool, error) {
	defer r.lock()()
	t, ok := r.st.tokens[token]
	if !ok {
		return false, store.ErrNotFound
	}
	if t.Revoked {
		return false, nil
	}
	t.Revoked = true
	r.st.tokens[token] = t
	return true, nil
}

// Signature events.

func (r *repo) CreateSignatureEvent(ctx context.Context, ev domain.SignatureEvent) (domain.SignatureEvent, error) {
	defer r.lock()()
	if ev.ID == "" {
		ev.ID = domain.NewID(domain.PrefixEvent)
	}
	if _, ok := r.st.events[ev.ID]; ok {
		return domain.SignatureEvent{}, store.ErrUniqueViolation
	}
	ev.SignedAt = r.clock()
	ev.EventHash = ""
	ev.FieldValues = append([]domain.FieldValue(nil), ev.FieldValues...)
	r.st.events[ev.ID] = ev
	r.st.eventOrder = append(r.st.eventOrder, ev.ID)
	return ev, nil
}

func (r *repo) SetEventHash(ctx context.Context, id, hash string) error {
	defer r.lock()()
	ev, ok := r.st.events[id]
	if !ok {
		return store.ErrNotFound
	}
	if ev.EventHash != "" {
		return errors.New("event hash already set")
	}
	ev.EventHash = hash
	r.st.events[id] = ev
	return nil
}

func (r *repo) GetSignatureEvent(ctx context.Context, id string) (domain.SignatureEvent, error) {
	defer r.lock()()
	ev, ok := r.st.events[id]
	if !ok {
		return domain.SignatureEvent{}, store.ErrNotFound
	}
	return ev, nil
}

func (r *repo) ListSignatureEvents(ctx context.Context, documentID string) ([]domain.SignatureEvent, error) {
	defer r.lock()()
	var out []domain.SignatureEvent
	for _, id := range r.st.eventOrder {
		if ev := r.st.events[id]; ev.DocumentID == documentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Webhooks.

func (r *repo) CreateWebhook(ctx context.Context, w domain.Webhook) error {
	defer r.lock()()
	if _, ok := r.st.webhooks[w.ID]; ok {
		return store.ErrUniqueViolation
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = r.clock()
	}
	w.Events = append([]string(nil), w.Events...)
	r.st.webhooks[w.ID] = w
	return nil
}

func (r *repo) GetWebhook(ctx context.Context, id string) (domain.Webhook, error) {
	defer r.lock()()
	w, ok := r.st.webhooks[id]
	if !ok {
		return domain.Webhook{}, store.ErrNotFound
	}
	return w, nil
}

func (r *repo) ListActiveWebhooks(ctx context.Context) ([]domain.Webhook, error) {
	defer r.lock()()
	var out []domain.Webhook
	for _, w := range r.st.webhooks {
		if w.Active {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *repo) CreateWebhookEvent(ctx context.Context, ev domain.WebhookEvent) error {
	defer r.lock()()
	if _, ok := r.st.webhookEvents[ev.ID]; ok {
		return store.ErrUniqueViolation
	}
	w, ok := r.st.webhooks[ev.WebhookID]
	if !ok {
		return fmt.Errorf("create webhook event: webhook %s: %w", ev.WebhookID, store.ErrNotFound)
	}
	now := r.clock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	r.st.webhookEvents[ev.ID] = ev
	w.LastTriggeredAt = &now
	r.st.webhooks[w.ID] = w
	return nil
}

func (r *repo) GetWebhookEvent(ctx context.Context, id string) (domain.WebhookEvent, error) {
	defer r.lock()()
	ev, ok := r.st.webhookEvents[id]
	if !ok {
		return domain.WebhookEvent{}, store.ErrNotFound
	}
	return ev, nil
}

func (r *repo) ClaimWebhookEvent(ctx context.Context, id string, now time.Time, lease time.Duration) (domain.WebhookEvent, bool, error) {
	defer r.lock()()
	ev, ok := r.st.webhookEvents[id]
	if !ok {
		return domain.WebhookEvent{}, false, store.ErrNotFound
	}
	if !claimable(ev, now) {
		return ev, false, nil
	}
	until := now.Add(lease)
	ev.ClaimedUntil = &until
	r.st.webhookEvents[id] = ev
	return ev, true, nil
}

func claimable(ev domain.WebhookEvent, now time.Time) bool {
	if ev.Status.Terminal() {
		return false
	}
	if ev.ClaimedUntil != nil && now.Before(*ev.ClaimedUntil) {
		return false
	}
	if ev.Status == domain.WebhookRetrying && ev.NextRetryAt != nil && now.Before(*ev.NextRetryAt) {
		return false
	}
	return true
}

func (r *repo) CompleteAttempt(ctx context.Context, ev domain.WebhookEvent, log domain.WebhookDeliveryLog) error {
	defer r.lock()()
	stored, ok := r.st.webhookEvents[ev.ID]
	if !ok {
		return store.ErrNotFound
	}
	ev.ClaimedUntil = nil
	ev.Counted = stored.Counted
	if ev.Status.Terminal() && !stored.Counted {
		w, ok := r.st.webhooks[ev.WebhookID]
		if ok {
			if ev.Status == domain.WebhookDelivered {
				w.SuccessfulDeliveries++
			} else {
				w.FailedDeliveries++
			}
			r.st.webhooks[w.ID] = w
		}
		ev.Counted = true
	}
	r.st.webhookEvents[ev.ID] = ev
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.clock()
	}
	r.st.deliveryLogs = append(r.st.deliveryLogs, log)
	return nil
}

func (r *repo) ListDueWebhookEvents(ctx context.Context, now time.Time, limit int) ([]string, error) {
	defer r.lock()()
	var due []domain.WebhookEvent
	for _, ev := range r.st.webhookEvents {
		if claimable(ev, now) {
			due = append(due, ev)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, ev := range due {
		ids = append(ids, ev.ID)
	}
	return ids, nil
}

func (r *repo) ListDeliveryLogs(ctx context.Context, eventID string) ([]domain.WebhookDeliveryLog, error) {
	defer r.lock()()
	var out []domain.WebhookDeliveryLog
	for _, l := range r.st.deliveryLogs {
		if l.EventID == eventID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *repo) RequeueWebhookEvent(ctx context.Context, id string, now time.Time) (bool, error) {
	defer r.lock()()
	ev, ok := r.st.webhookEvents[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if ev.Status != domain.WebhookFailed {
		return false, nil
	}
	ev.Status = domain.WebhookRetrying
	ev.NextRetryAt = &now
	ev.ClaimedUntil = nil
	r.st.webhookEvents[id] = ev
	return true, nil
}

// Groups and sessions.

func (r *repo) CreateGroup(ctx context.Context, g domain.DocumentGroup) error {
	defer r.lock()()
	if _, ok := r.st.groups[g.ID]; ok {
		return store.ErrUniqueViolation
	}
	for _, it := range g.Items {
		if _, ok := r.st.documents[it.DocumentID]; !ok {
			return fmt.Errorf("create group: document %s: %w", it.DocumentID, store.ErrNotFound)
		}
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = r.clock()
	}
	items := append([]domain.GroupItem(nil), g.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	g.Items = items
	r.st.groups[g.ID] = g
	return nil
}

func (r *repo) GetGroup(ctx context.Context, id string) (domain.DocumentGroup, error) {
	defer r.lock()()
	g, ok := r.st.groups[id]
	if !ok {
		return domain.DocumentGroup{}, store.ErrNotFound
	}
	return g, nil
}

func (r *repo) LockGroup(ctx context.Context, id string) (domain.DocumentGroup, error) {
	return r.GetGroup(ctx, id)
}

func (r *repo) UpdateGroupStatus(ctx context.Context, id string, status domain.GroupStatus) error {
	defer r.lock()()
	g, ok := r.st.groups[id]
	if !ok {
		return store.ErrNotFound
	}
	g.Status = status
	r.st.groups[id] = g
	return nil
}

func (r *repo) CreateSession(ctx context.Context, s domain.GroupSigningSession) error {
	defer r.lock()()
	if _, ok := r.st.sessions[s.Token]; ok {
		return store.ErrUniqueViolation
	}
	for _, other := range r.st.sessions {
		if other.GroupID == s.GroupID && other.Recipient == s.Recipient && !other.Status.Closed() {
			return store.ErrUniqueViolation
		}
	}
	now := r.clock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	r.st.sessions[s.Token] = s
	return nil
}

func (r *repo) GetSession(ctx context.Context, token string) (domain.GroupSigningSession, error) {
	defer r.lock()()
	s, ok := r.st.sessions[token]
	if !ok {
		return domain.GroupSigningSession{}, store.ErrNotFound
	}
	return s, nil
}

func (r *repo) LockSession(ctx context.Context, token string) (domain.GroupSigningSession, error) {
	return r.GetSession(ctx, token)
}

func (r *repo) UpdateSession(ctx context.Context, s domain.GroupSigningSession) error {
	defer r.lock()()
	if _, ok := r.st.sessions[s.Token]; !ok {
		return store.ErrNotFound
	}
	s.UpdatedAt = r.clock()
	r.st.sessions[s.Token] = s
	return nil
}

func (r *repo) ListSessions(ctx context.Context, groupID string) ([]domain.GroupSigningSession, error) {
	defer r.lock()()
	var out []domain.GroupSigningSession
	for _, s := range r.st.sessions {
		if s.GroupID == groupID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Idempotency records.

func (r *repo) GetIdempotencyRecord(ctx context.Context, key, endpoint string) (int, []byte, bool, error) {
	defer r.lock()()
	rec, ok := r.st.idempotency[idemKey{key, endpoint}]
	if !ok {
		return 0, nil, false, nil
	}
	return rec.status, append([]byte(nil), rec.body...), true, nil
}

func (r *repo) SaveIdempotencyRecord(ctx context.Context, key, endpoint string, status int, body []byte) error {
	defer r.lock()()
	k := idemKey{key, endpoint}
	if _, ok := r.st.idempotency[k]; ok {
		return nil
	}
	r.st.idempotency[k] = idemRecord{status: status, body: append([]byte(nil), body...)}
	return nil
}

var _ store.Repository = (*repo)(nil)
