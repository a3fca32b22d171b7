package signing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/blobs"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

// FieldSpec places one field on a new document.
type FieldSpec struct {
	Type      domain.FieldType `json:"type"`
	Recipient string           `json:"recipient"`
	Page      int              `json:"page"`
	X         float64          `json:"x"`
	Y         float64          `json:"y"`
	Width     float64          `json:"width"`
	Height    float64          `json:"height"`
	Required  bool             `json:"required"`
}

func (f FieldSpec) validate(i int) error {
	switch {
	case !f.Type.Valid():
		return domain.Malformed(fmt.Sprintf("field %d: unknown type %q", i, f.Type))
	case f.Recipient == "":
		return domain.Malformed(fmt.Sprintf("field %d: recipient is required", i))
	case f.Page < 1:
		return domain.Malformed(fmt.Sprintf("field %d: page starts at 1", i))
	case f.X < 0 || f.Y < 0 || f.Width <= 0 || f.Height <= 0 || f.X+f.Width > 1 || f.Y+f.Height > 1:
		return domain.Malformed(fmt.Sprintf("field %d: box must lie within the page", i))
	}
	return nil
}

// CreateDocument stores source as a new draft document with its fields.
// Fields cannot change afterwards.
func (p *Processor) CreateDocument(ctx context.Context, title string, source []byte, specs []FieldSpec) (domain.Document, []domain.Field, error) {
	if len(source) == 0 {
		return domain.Document{}, nil, domain.Malformed("source file is empty")
	}
	for i, f := range specs {
		if err := f.validate(i); err != nil {
			return domain.Document{}, nil, err
		}
	}
	doc := domain.Document{ID: domain.NewID(domain.PrefixDocument), Title: title, Status: domain.DocumentDraft}
	doc.FileKey = blobs.SourceKey(doc.ID)
	if err := p.blobs.Put(ctx, doc.FileKey, source, blobs.ContentTypePDF); err != nil {
		return domain.Document{}, nil, fmt.Errorf("store source: %w", err)
	}
	fields := make([]domain.Field, 0, len(specs))
	for _, f := range specs {
		fields = append(fields, domain.Field{
			ID: domain.NewID(domain.PrefixField), DocumentID: doc.ID, Type: f.Type, Recipient: f.Recipient,
			Page: f.Page, X: f.X, Y: f.Y, Width: f.Width, Height: f.Height, Required: f.Required,
		})
	}
	err := p.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		if err := repo.CreateDocument(ctx, doc); err != nil {
			return err
		}
		for _, f := range fields {
			if err := repo.CreateField(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Document{}, nil, err
	}
	created, err := p.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return domain.Document{}, nil, err
	}
	p.logger.Info("document created", zap.String("document_id", doc.ID), zap.Int("fields", len(fields)))
	return created, fields, nil
}

// LockDocument moves a draft with at least one field to locked and fires
// document.locked. Locking an already locked document is a no-op.
func (p *Processor) LockDocument(ctx context.Context, documentID string) (domain.Document, error) {
	var doc domain.Document
	var changed bool
	err := p.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		doc, err = repo.LockDocument(ctx, documentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.NotFound("document", documentID)
			}
			return err
		}
		if !doc.IsDraft() {
			return nil
		}
		fields, err := repo.ListFields(ctx, doc.ID)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return &domain.Error{Code: domain.CodeDocumentNotReady, Message: "document has no fields to sign"}
		}
		if err := repo.UpdateDocumentStatus(ctx, doc.ID, domain.DocumentLocked); err != nil {
			return err
		}
		doc.Status = domain.DocumentLocked
		changed = true
		return nil
	})
	if err != nil {
		return domain.Document{}, err
	}
	if changed {
		p.logger.Info("document locked", zap.String("document_id", doc.ID))
		if p.notifier != nil {
			p.trigger(context.WithoutCancel(ctx), domain.EventLocked, map[string]any{
				"document_id": doc.ID,
				"title":       doc.Title,
				"status":      string(doc.Status),
			})
		}
	}
	return doc, nil
}

// EnsureSignedArtifact produces the flattened artifact of a completed
// document if an earlier attempt failed. Unlike the attempt made during
// signing, a render failure is returned to the caller.
func (p *Processor) EnsureSignedArtifact(ctx context.Context, documentID string) (domain.Document, error) {
	var doc domain.Document
	err := p.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		var err error
		doc, err = repo.LockDocument(ctx, documentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.NotFound("document", documentID)
			}
			return err
		}
		if doc.Status != domain.DocumentCompleted {
			return &domain.Error{Code: domain.CodeDocumentNotReady, Message: "document is not completed", Reason: string(doc.Status)}
		}
		if doc.HasSignedArtifact() {
			return nil
		}
		fields, err := repo.ListFields(ctx, doc.ID)
		if err != nil {
			return err
		}
		key, sum, err := p.finalize(ctx, repo, doc, fields)
		if err != nil {
			return fmt.Errorf("signed artifact: %w", err)
		}
		doc.SignedFileKey, doc.SignedFileSHA256 = key, sum
		return nil
	})
	if err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}
