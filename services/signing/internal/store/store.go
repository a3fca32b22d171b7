// Package store declares the persistence contracts of the signing engine.
// Implementations must provide atomic transactions, row-level serialization
// of concurrent writers to the same token/document, and the single active
// sign link constraint.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
)

var (
	// ErrNotFound is returned by getters when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrUniqueViolation is returned when an insert would break a uniqueness
	// constraint (active sign link, live group session).
	ErrUniqueViolation = errors.New("unique constraint violated")
)

type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	// LockDocument reads the document and holds a write lock on it until
	// the surrounding transaction ends.
	LockDocument(ctx context.Context, id string) (domain.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus) error
	// SetSignedArtifact stores the flattened artifact reference unless one
	// is already present. It reports whether it wrote.
	SetSignedArtifact(ctx context.Context, id, key, sha256 string) (bool, error)

	CreateField(ctx context.Context, f domain.Field) error
	ListFields(ctx context.Context, documentID string) ([]domain.Field, error)
	// LockFields reads every field of the document and write-locks them.
	LockFields(ctx context.Context, documentID string) ([]domain.Field, error)
	// FillFields sets value and locked=true on still-unlocked fields of the
	// document and returns how many rows changed.
	FillFields(ctx context.Context, documentID string, values []domain.FieldValue) (int, error)
}

type TokenRepository interface {
	CreateToken(ctx context.Context, t domain.SigningToken) error
	GetToken(ctx context.Context, token string) (domain.SigningToken, error)
	LockToken(ctx context.Context, token string) (domain.SigningToken, error)
	FindActiveSignToken(ctx context.Context, documentID, recipient string) (domain.SigningToken, error)
	// ConsumeToken turns an unused sign token into a used view token. It
	// reports whether the row changed.
	ConsumeToken(ctx context.Context, id string) (bool, error)
	// RevokeToken marks the token revoked and reports whether it changed.
	RevokeToken(ctx context.Context, token string) (bool, error)
}

type EventRepository interface {
	// CreateSignatureEvent persists ev with a server-assigned id and
	// timestamp and returns the stored row.
	CreateSignatureEvent(ctx context.Context, ev domain.SignatureEvent) (domain.SignatureEvent, error)
	// SetEventHash writes the hash once; a second write is rejected.
	SetEventHash(ctx context.Context, id, hash string) error
	GetSignatureEvent(ctx context.Context, id string) (domain.SignatureEvent, error)
	ListSignatureEvents(ctx context.Context, documentID string) ([]domain.SignatureEvent, error)
}

type WebhookRepository interface {
	CreateWebhook(ctx context.Context, w domain.Webhook) error
	GetWebhook(ctx context.Context, id string) (domain.Webhook, error)
	ListActiveWebhooks(ctx context.Context) ([]domain.Webhook, error)
	CreateWebhookEvent(ctx context.Context, ev domain.WebhookEvent) error
	GetWebhookEvent(ctx context.Context, id string) (domain.WebhookEvent, error)
	// ClaimWebhookEvent leases a pending or due retrying event for one
	// delivery attempt. ok=false means someone else holds it or it is not
	// due.
	ClaimWebhookEvent(ctx context.Context, id string, now time.Time, lease time.Duration) (ev domain.WebhookEvent, ok bool, err error)
	// CompleteAttempt appends the delivery log, stores the event's new
	// state, releases the lease and, on the first terminal outcome only,
	// bumps the webhook's lifetime counter.
	CompleteAttempt(ctx context.Context, ev domain.WebhookEvent, log domain.WebhookDeliveryLog) error
	ListDueWebhookEvents(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListDeliveryLogs(ctx context.Context, eventID string) ([]domain.WebhookDeliveryLog, error)
	// RequeueWebhookEvent moves a failed event back to retrying, due now.
	RequeueWebhookEvent(ctx context.Context, id string, now time.Time) (bool, error)
}

type GroupRepository interface {
	CreateGroup(ctx context.Context, g domain.DocumentGroup) error
	GetGroup(ctx context.Context, id string) (domain.DocumentGroup, error)
	LockGroup(ctx context.Context, id string) (domain.DocumentGroup, error)
	UpdateGroupStatus(ctx context.Context, id string, status domain.GroupStatus) error
	// CreateSession fails with ErrUniqueViolation if the recipient already
	// has an open session on the group.
	CreateSession(ctx context.Context, s domain.GroupSigningSession) error
	GetSession(ctx context.Context, token string) (domain.GroupSigningSession, error)
	LockSession(ctx context.Context, token string) (domain.GroupSigningSession, error)
	UpdateSession(ctx context.Context, s domain.GroupSigningSession) error
	ListSessions(ctx context.Context, groupID string) ([]domain.GroupSigningSession, error)
}

// IdempotencyRepository keeps the first response produced for an
// Idempotency-Key so a retried request replays it.
type IdempotencyRepository interface {
	GetIdempotencyRecord(ctx context.Context, key, endpoint string) (status int, body []byte, found bool, err error)
	// SaveIdempotencyRecord keeps the first record for key and endpoint and
	// silently ignores later ones.
	SaveIdempotencyRecord(ctx context.Context, key, endpoint string, status int, body []byte) error
}

// Repository is everything a unit of work may touch.
type Repository interface {
	DocumentRepository
	TokenRepository
	EventRepository
	WebhookRepository
	GroupRepository
	IdempotencyRepository
}

// Store runs single statements directly and multi-statement work in a
// transaction. fn's repo must be the only handle used inside fn; returning
// an error rolls everything back.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
