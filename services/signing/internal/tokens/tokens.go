// Package tokens issues, validates, consumes and revokes document links.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/recipients"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

type Manager struct {
	store      store.Store
	logger     *zap.Logger
	now        func() time.Time
	defaultTTL time.Duration
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithDefaultTTL sets the expiry applied when Issue is called with ttl 0.
// Zero means links never expire.
func WithDefaultTTL(ttl time.Duration) Option { return func(m *Manager) { m.defaultTTL = ttl } }

func New(st store.Store, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{store: st, logger: logger.With(zap.String("component", "tokens")), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Now() time.Time { return m.now().UTC() }

// Check returns the TOKEN_INVALID error for t at now, or nil.
func Check(t domain.SigningToken, now time.Time) error {
	if reason := t.InvalidReason(now); reason != "" {
		return domain.TokenInvalid(reason)
	}
	return nil
}

// Issue creates a link for documentID. Sign links need a recipient with
// outstanding required fields and no other live sign link.
func (m *Manager) Issue(ctx context.Context, documentID string, scope domain.TokenScope, recipient string, ttl time.Duration) (domain.SigningToken, error) {
	switch scope {
	case domain.ScopeSign, domain.ScopeView:
	default:
		return domain.SigningToken{}, domain.Malformed(fmt.Sprintf("unknown scope %q", scope))
	}
	if scope == domain.ScopeSign && recipient == "" {
		return domain.SigningToken{}, domain.ErrRecipientRequired
	}
	if scope == domain.ScopeView && recipient != "" {
		return domain.SigningToken{}, domain.Malformed("view links carry no recipient")
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}

	var out domain.SigningToken
	err := m.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		doc, err := repo.LockDocument(ctx, documentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.NotFound("document", documentID)
			}
			return err
		}
		if scope == domain.ScopeView {
			if err := recipients.CanIssueViewLink(doc); err != nil {
				return err
			}
			out, err = m.create(ctx, repo, doc.ID, scope, "", ttl)
			return err
		}
		fields, err := repo.ListFields(ctx, doc.ID)
		if err != nil {
			return err
		}
		if err := recipients.CanIssueSignLink(doc, fields, recipient); err != nil {
			return err
		}
		existing, err := repo.FindActiveSignToken(ctx, doc.ID, recipient)
		switch {
		case err == nil:
			if existing.InvalidReason(m.Now()) == "" {
				return domain.DuplicateActiveToken(false)
			}
			// An expired link no longer counts; retire it so a fresh one fits.
			if _, err := repo.RevokeToken(ctx, existing.Token); err != nil {
				return err
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		out, err = m.create(ctx, repo, doc.ID, scope, recipient, ttl)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			m.logger.Info("lost sign link issuance race", zap.String("document_id", documentID), zap.String("recipient", recipient))
			return domain.SigningToken{}, domain.DuplicateActiveToken(true)
		}
		return domain.SigningToken{}, err
	}
	m.logger.Debug("link issued", zap.String("document_id", documentID), zap.String("scope", string(scope)), zap.String("token_id", out.ID))
	return out, nil
}

func (m *Manager) IssueSignLink(ctx context.Context, documentID, recipient string, ttl time.Duration) (domain.SigningToken, error) {
	return m.Issue(ctx, documentID, domain.ScopeSign, recipient, ttl)
}

func (m *Manager) IssueViewLink(ctx context.Context, documentID string, ttl time.Duration) (domain.SigningToken, error) {
	return m.Issue(ctx, documentID, domain.ScopeView, "", ttl)
}

func (m *Manager) create(ctx context.Context, repo store.Repository, documentID string, scope domain.TokenScope, recipient string, ttl time.Duration) (domain.SigningToken, error) {
	secret, err := domain.NewLinkToken()
	if err != nil {
		return domain.SigningToken{}, err
	}
	t := domain.SigningToken{
		ID:         domain.NewID(domain.PrefixToken),
		Token:      secret,
		DocumentID: documentID,
		Scope:      scope,
		Recipient:  recipient,
		CreatedAt:  m.Now().Truncate(time.Microsecond),
	}
	if ttl > 0 {
		exp := t.CreatedAt.Add(ttl)
		t.ExpiresAt = &exp
	}
	if err := repo.CreateToken(ctx, t); err != nil {
		return domain.SigningToken{}, err
	}
	return t, nil
}

// GetOrIssueSignLink returns the live sign link of recipient on doc, creating
// one inside repo's transaction if none exists.
func (m *Manager) GetOrIssueSignLink(ctx context.Context, repo store.Repository, doc domain.Document, fields []domain.Field, recipient string) (domain.SigningToken, error) {
	existing, err := repo.FindActiveSignToken(ctx, doc.ID, recipient)
	switch {
	case err == nil:
		if existing.InvalidReason(m.Now()) == "" {
			return existing, nil
		}
		if _, err := repo.RevokeToken(ctx, existing.Token); err != nil {
			return domain.SigningToken{}, err
		}
	case !errors.Is(err, store.ErrNotFound):
		return domain.SigningToken{}, err
	}
	if err := recipients.CanIssueSignLink(doc, fields, recipient); err != nil {
		return domain.SigningToken{}, err
	}
	return m.create(ctx, repo, doc.ID, domain.ScopeSign, recipient, m.defaultTTL)
}

// Validate loads token and checks it. Unknown tokens are reported as
// TOKEN_INVALID so links cannot be probed.
func (m *Manager) Validate(ctx context.Context, token string) (domain.SigningToken, error) {
	t, err := m.store.GetToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SigningToken{}, domain.TokenInvalid(domain.ReasonNotFound)
		}
		return domain.SigningToken{}, err
	}
	if err := Check(t, m.Now()); err != nil {
		return t, err
	}
	return t, nil
}

// Link is a validated token with its document.
type Link struct {
	Token    domain.SigningToken `json:"token"`
	Document domain.Document     `json:"document"`
	Fields   []domain.Field      `json:"fields"`
}

// Resolve validates token for reading. A used sign link has become a view
// link and still resolves. Fields are narrowed to the recipient for sign
// links.
func (m *Manager) Resolve(ctx context.Context, token string) (Link, error) {
	t, err := m.Validate(ctx, token)
	if err != nil {
		return Link{}, err
	}
	doc, err := m.store.GetDocument(ctx, t.DocumentID)
	if err != nil {
		return Link{}, fmt.Errorf("load document: %w", err)
	}
	fields, err := m.store.ListFields(ctx, doc.ID)
	if err != nil {
		return Link{}, fmt.Errorf("list fields: %w", err)
	}
	if t.Scope == domain.ScopeSign {
		fields = recipients.FieldsFor(fields, t.Recipient)
	}
	return Link{Token: t, Document: doc, Fields: fields}, nil
}

// Consume turns a sign link into a used view link. Consuming twice is a
// no-op.
func Consume(ctx context.Context, repo store.Repository, tokenID string) error {
	_, err := repo.ConsumeToken(ctx, tokenID)
	return err
}

// Revoke is idempotent on revoked and used links.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	changed, err := m.store.RevokeToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("link", "")
		}
		return err
	}
	if changed {
		m.logger.Info("link revoked")
	}
	return nil
}

// CheckSign is Check for a submission: a consumed link is reported as used
// even though it has become a view link, and only sign links pass.
func CheckSign(t domain.SigningToken, now time.Time) error {
	if err := Check(t, now); err != nil {
		return err
	}
	if t.Used {
		return domain.TokenInvalid(domain.ReasonUsed)
	}
	if t.Scope != domain.ScopeSign {
		return domain.ErrNotASignLink
	}
	return nil
}
