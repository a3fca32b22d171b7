package memory

import (
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
)

type state struct {
	documents     map[string]domain.Document
	fields        map[string]domain.Field
	fieldOrder    []string
	tokens        map[string]domain.SigningToken
	events        map[string]domain.SignatureEvent
	eventOrder    []string
	webhooks      map[string]domain.Webhook
	webhookEvents map[string]domain.WebhookEvent
	deliveryLogs  []domain.WebhookDeliveryLog
	groups        map[string]domain.DocumentGroup
	sessions      map[string]domain.GroupSigningSession
	idempotency   map[idemKey]idemRecord
}

type idemKey struct{ key, endpoint string }

type idemRecord struct {
	status int
	body   []byte
}

func newState() *state {
	return &state{
		documents:     map[string]domain.Document{},
		fields:        map[string]domain.Field{},
		tokens:        map[string]domain.SigningToken{},
		events:        map[string]domain.SignatureEvent{},
		webhooks:      map[string]domain.Webhook{},
		webhookEvents: map[string]domain.WebhookEvent{},
		groups:        map[string]domain.DocumentGroup{},
		sessions:      map[string]domain.GroupSigningSession{},
		idempotency:   map[idemKey]idemRecord{},
	}
}

// clone copies every table. Rows are replaced wholesale on update, never
// mutated through shared pointers, so copying the maps is enough.
func (s *state) clone() *state {
	return &state{
		documents:     cloneMap(s.documents),
		fields:        cloneMap(s.fields),
		fieldOrder:    append([]string(nil), s.fieldOrder...),
		tokens:        cloneMap(s.tokens),
		events:        cloneMap(s.events),
		eventOrder:    append([]string(nil), s.eventOrder...),
		webhooks:      cloneMap(s.webhooks),
		webhookEvents: cloneMap(s.webhookEvents),
		deliveryLogs:  append([]domain.WebhookDeliveryLog(nil), s.deliveryLogs...),
		groups:        cloneMap(s.groups),
		sessions:      cloneMap(s.sessions),
		idempotency:   cloneMap(s.idempotency),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
