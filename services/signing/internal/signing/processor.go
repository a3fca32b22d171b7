// Package signing runs signature submissions as single atomic units of work
// and manages the document transitions that follow from them.
package signing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/audit"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/blobs"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/recipients"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/render"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/tokens"
)

// Notifier receives engine events after their transaction has committed.
type Notifier interface {
	Trigger(ctx context.Context, eventType string, payload map[string]any) ([]string, error)
}

type Processor struct {
	store    store.Store
	chain    *audit.Chain
	blobs    blobs.Store
	renderer render.Renderer
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

// New wires a processor. renderer and notifier may be nil: completed
// documents then wait for EnsureSignedArtifact, and no webhooks fire.
func New(st store.Store, chain *audit.Chain, b blobs.Store, renderer render.Renderer, notifier Notifier, logger *zap.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:    st,
		chain:    chain,
		blobs:    b,
		renderer: renderer,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "signing")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request is one signature submission.
type Request struct {
	Token       string
	SignerName  string
	FieldValues []domain.FieldValue
	IPAddress   string
	UserAgent   string
}

// Result is what the signer gets back.
type Result struct {
	DocumentID      string                `json:"document_id"`
	Status          domain.DocumentStatus `json:"status"`
	Recipient       string                `json:"recipient"`
	RecipientStatus recipients.Status     `json:"recipient_status"`
	Event           domain.SignatureEvent `json:"event"`
}

// Outcome is a committed submission plus what to announce about it.
type Outcome struct {
	Result
	PreviousStatus domain.DocumentStatus
	Document       domain.Document
}

// Submit validates and applies req in one transaction, then announces it.
// A request that loses the race for a single-use link gets TOKEN_INVALID
// with Conflict set.
func (p *Processor) Submit(ctx context.Context, req Request) (Result, error) {
	pre, preErr := p.store.GetToken(ctx, req.Token)
	wasValid := preErr == nil && tokens.CheckSign(pre, p.now().UTC()) == nil

	var out Outcome
	err := p.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		out, err = p.Apply(ctx, repo, req)
		return err
	})
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			if wasValid && de.Code == domain.CodeTokenInvalid && de.Reason == domain.ReasonUsed {
				p.logger.Info("lost signing race", zap.String("token_id", pre.ID))
				return Result{}, domain.TokenRaceLost()
			}
			p.logger.Info("signature rejected", zap.String("code", string(de.Code)), zap.String("reason", de.Reason), zap.Strings("fields", de.Fields))
			return Result{}, err
		}
		p.logger.Error("signing transaction failed", zap.Error(err))
		return Result{}, err
	}
	p.Notify(ctx, out)
	return out.Result, nil
}

// Apply performs the whole submission against repo, which must belong to an
// open transaction. Nothing is written unless every check passes first.
func (p *Processor) Apply(ctx context.Context, repo store.Repository, req Request) (Outcome, error) {
	now := p.now().UTC()
	tok, err := repo.LockToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{}, domain.TokenInvalid(domain.ReasonNotFound)
		}
		return Outcome{}, fmt.Errorf("lock token: %w", err)
	}
	if err := tokens.CheckSign(tok, now); err != nil {
		return Outcome{}, err
	}
	if err := validatePayload(req); err != nil {
		return Outcome{}, err
	}

	doc, err := repo.LockDocument(ctx, tok.DocumentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lock document: %w", err)
	}
	fields, err := repo.LockFields(ctx, doc.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lock fields: %w", err)
	}
	if err := checkOwnership(fields, tok.Recipient, req.FieldValues); err != nil {
		return Outcome{}, err
	}
	if err := checkCompleteness(fields, tok.Recipient, req.FieldValues); err != nil {
		return Outcome{}, err
	}

	n, err := repo.FillFields(ctx, doc.ID, req.FieldValues)
	if err != nil {
		return Outcome{}, fmt.Errorf("fill fields: %w", err)
	}
	if n != len(req.FieldValues) {
		return Outcome{}, fmt.Errorf("fill fields: %d of %d rows changed", n, len(req.FieldValues))
	}
	fields = applyValues(fields, req.FieldValues)

	docHash, err := p.chain.DocumentHash(ctx, doc)
	if err != nil {
		return Outcome{}, fmt.Errorf("hash document: %w", err)
	}
	tokenID := tok.ID
	ev, err := repo.CreateSignatureEvent(ctx, domain.SignatureEvent{
		ID:             domain.NewID(domain.PrefixEvent),
		DocumentID:     doc.ID,
		TokenID:        &tokenID,
		Recipient:      tok.Recipient,
		SignerName:     strings.TrimSpace(req.SignerName),
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		DocumentSHA256: docHash,
		FieldValues:    req.FieldValues,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create signature event: %w", err)
	}
	// The hash covers the server-assigned timestamp, so it can only be
	// computed from the stored row.
	ev.EventHash, err = audit.EventHash(ev)
	if err != nil {
		return Outcome{}, fmt.Errorf("compute event hash: %w", err)
	}
	if err := repo.SetEventHash(ctx, ev.ID, ev.EventHash); err != nil {
		return Outcome{}, fmt.Errorf("store event hash: %w", err)
	}

	if err := tokens.Consume(ctx, repo, tok.ID); err != nil {
		return Outcome{}, fmt.Errorf("consume token: %w", err)
	}

	prev := doc.Status
	next := recipients.NextDocumentStatus(prev, fields)
	if next != prev {
		if err := repo.UpdateDocumentStatus(ctx, doc.ID, next); err != nil {
			return Outcome{}, fmt.Errorf("update document status: %w", err)
		}
		doc.Status = next
	}
	if next == domain.DocumentCompleted && !doc.HasSignedArtifact() {
		if key, sum, err := p.finalize(ctx, repo, doc, fields); err != nil {
			p.logger.Warn("signed artifact not produced", zap.String("document_id", doc.ID), zap.Error(err))
		} else {
			doc.SignedFileKey, doc.SignedFileSHA256 = key, sum
		}
	}

	return Outcome{
		Result: Result{
			DocumentID:      doc.ID,
			Status:          doc.Status,
			Recipient:       tok.Recipient,
			RecipientStatus: recipients.StatusOf(fields)[tok.Recipient],
			Event:           ev,
		},
		PreviousStatus: prev,
		Document:       doc,
	}, nil
}

func validatePayload(req Request) error {
	if strings.TrimSpace(req.SignerName) == "" {
		return domain.Malformed("signer_name is required")
	}
	if len(req.FieldValues) == 0 {
		return domain.Malformed("field_values must not be empty")
	}
	seen := make(map[string]bool, len(req.FieldValues))
	for _, fv := range req.FieldValues {
		if fv.FieldID == "" {
			return domain.Malformed("every field value needs a field_id")
		}
		if fv.NoValue {
			return domain.Malformed("field " + fv.FieldID + " has no value")
		}
		if seen[fv.FieldID] {
			return domain.Malformed("duplicate field_id " + fv.FieldID)
		}
		seen[fv.FieldID] = true
	}
	return nil
}

// checkOwnership requires every submitted field to be an unlocked field of
// the recipient on this document.
func checkOwnership(fields []domain.Field, recipient string, values []domain.FieldValue) error {
	signable := map[string]bool{}
	for _, f := range fields {
		if f.Recipient == recipient && !f.Locked {
			signable[f.ID] = true
		}
	}
	var bad []string
	for _, fv := range values {
		if !signable[fv.FieldID] {
			bad = append(bad, fv.FieldID)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return domain.OwnershipViolation(bad)
	}
	return nil
}

func checkCompleteness(fields []domain.Field, recipient string, values []domain.FieldValue) error {
	submitted := make(map[string]bool, len(values))
	for _, fv := range values {
		submitted[fv.FieldID] = true
	}
	var missing []string
	for _, f := range fields {
		if f.Recipient == recipient && f.Blocking() && !submitted[f.ID] {
			missing = append(missing, f.ID)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return domain.MissingRequiredFields(missing)
	}
	return nil
}

func applyValues(fields []domain.Field, values []domain.FieldValue) []domain.Field {
	byID := make(map[string]string, len(values))
	for _, fv := range values {
		byID[fv.FieldID] = fv.Value
	}
	out := make([]domain.Field, len(fields))
	for i, f := range fields {
		if v, ok := byID[f.ID]; ok && !f.Locked {
			f.Value = &v
			f.Locked = true
		}
		out[i] = f
	}
	return out
}

// finalize renders, stores and records the signed artifact of doc.
func (p *Processor) finalize(ctx context.Context, repo store.Repository, doc domain.Document, fields []domain.Field) (string, string, error) {
	if p.renderer == nil {
		return "", "", errors.New("no renderer configured")
	}
	pdf, err := p.renderer.Flatten(ctx, doc, fields)
	if err != nil {
		return "", "", fmt.Errorf("flatten: %w", err)
	}
	key := blobs.SignedKey(doc.ID)
	if err := p.blobs.Put(ctx, key, pdf, blobs.ContentTypePDF); err != nil {
		return "", "", fmt.Errorf("store signed artifact: %w", err)
	}
	sum := audit.ArtifactHash(pdf)
	if _, err := repo.SetSignedArtifact(ctx, doc.ID, key, sum); err != nil {
		return "", "", fmt.Errorf("record signed artifact: %w", err)
	}
	p.logger.Info("signed artifact stored", zap.String("document_id", doc.ID), zap.String("sha256", sum))
	return key, sum, nil
}

// Notify announces a committed submission. Failures are logged; the
// submission stands regardless.
func (p *Processor) Notify(ctx context.Context, out Outcome) {
	if p.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	ev := out.Event
	p.trigger(ctx, domain.EventSignatureCreated, map[string]any{
		"document_id":     ev.DocumentID,
		"event_id":        ev.ID,
		"recipient":       ev.Recipient,
		"signer_name":     ev.SignerName,
		"signed_at":       ev.SignedAt.UTC().Format(audit.SignedAtLayout),
		"event_hash":      ev.EventHash,
		"document_sha256": ev.DocumentSHA256,
	})
	if out.Status != out.PreviousStatus {
		p.trigger(ctx, domain.EventStatusChanged, map[string]any{
			"document_id": out.DocumentID,
			"old_status":  string(out.PreviousStatus),
			"new_status":  string(out.Status),
		})
	}
	if out.Status == domain.DocumentCompleted && out.PreviousStatus != domain.DocumentCompleted {
		payload := map[string]any{
			"document_id": out.DocumentID,
			"title":       out.Document.Title,
			"status":      string(out.Status),
		}
		if out.Document.SignedFileSHA256 != "" {
			payload["signed_file_sha256"] = out.Document.SignedFileSHA256
		}
		p.trigger(ctx, domain.EventCompleted, payload)
	}
}

func (p *Processor) trigger(ctx context.Context, eventType string, payload map[string]any) {
	if _, err := p.notifier.Trigger(ctx, eventType, payload); err != nil {
		p.logger.Warn("webhook trigger failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
