// Package audit computes and checks the tamper-evident hashes recorded with
// every signature: the document content hash captured at signing time, the
// event hash over the signing inputs, and the signed artifact hash.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/canonhash"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/blobs"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

// SignedAtLayout renders event timestamps into the hash input. Storage keeps
// microsecond precision, so the fraction is always six digits.
const SignedAtLayout = "2006-01-02T15:04:05.000000Z07:00"

type eventHashInput struct {
	DocumentSHA256 string              `json:"document_sha256"`
	FieldValues    []domain.FieldValue `json:"field_values"`
	SignerName     string              `json:"signer_name"`
	Recipient      string              `json:"recipient"`
	SignedAt       string              `json:"signed_at"`
	TokenID        *string             `json:"token_id"`
	DocumentID     string              `json:"document_id"`
}

// EventHashInput returns the canonical bytes that EventHash digests.
func EventHashInput(ev domain.SignatureEvent) ([]byte, error) {
	values := append([]domain.FieldValue{}, ev.FieldValues...)
	sort.SliceStable(values, func(i, j int) bool { return values[i].FieldID < values[j].FieldID })
	return canonhash.Canonicalize(eventHashInput{
		DocumentSHA256: ev.DocumentSHA256,
		FieldValues:    values,
		SignerName:     ev.SignerName,
		Recipient:      ev.Recipient,
		SignedAt:       ev.SignedAt.UTC().Truncate(time.Microsecond).Format(SignedAtLayout),
		TokenID:        ev.TokenID,
		DocumentID:     ev.DocumentID,
	})
}

// EventHash is independent of the order field values were submitted in.
func EventHash(ev domain.SignatureEvent) (string, error) {
	b, err := EventHashInput(ev)
	if err != nil {
		return "", err
	}
	return canonhash.SumBytes(b), nil
}

// Reader is the storage the chain reads from.
type Reader interface {
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	ListSignatureEvents(ctx context.Context, documentID string) ([]domain.SignatureEvent, error)
}

type Chain struct {
	blobs  blobs.Store
	repo   Reader
	logger *zap.Logger
}

func New(b blobs.Store, repo Reader, logger *zap.Logger) *Chain {
	return &Chain{blobs: b, repo: repo, logger: logger.With(zap.String("component", "audit"))}
}

// DocumentHash is the SHA-256 of the document's source file as stored now.
func (c *Chain) DocumentHash(ctx context.Context, doc domain.Document) (string, error) {
	if doc.FileKey == "" {
		return "", fmt.Errorf("document %s has no source file", doc.ID)
	}
	b, err := c.blobs.Get(ctx, doc.FileKey)
	if err != nil {
		return "", fmt.Errorf("read source of %s: %w", doc.ID, err)
	}
	return canonhash.SumBytes(b), nil
}

// Report is the outcome of checking one signature event. Mismatches are
// reported here, never returned as errors.
type Report struct {
	EventID                 string   `json:"event_id"`
	Recipient               string   `json:"recipient"`
	SignedAt                string   `json:"signed_at"`
	EventHashValid          bool     `json:"event_hash_valid"`
	DocumentHashValid       bool     `json:"document_hash_valid"`
	SignedArtifactHashValid *bool    `json:"signed_artifact_hash_valid"`
	OverallValid            bool     `json:"overall_valid"`
	StoredEventHash         string   `json:"stored_event_hash"`
	ComputedEventHash       string   `json:"computed_event_hash"`
	Problems                []string `json:"problems,omitempty"`
}

// Verify recomputes every hash for ev against doc's current stored files.
func (c *Chain) Verify(ctx context.Context, ev domain.SignatureEvent, doc domain.Document) Report {
	docHash, docErr := c.DocumentHash(ctx, doc)
	artifact, artErr := c.artifactValid(ctx, doc)
	return c.verify(ev, docHash, docErr, artifact, artErr)
}

func (c *Chain) verify(ev domain.SignatureEvent, docHash string, docErr error, artifact *bool, artErr error) Report {
	r := Report{
		EventID:                 ev.ID,
		Recipient:               ev.Recipient,
		SignedAt:                ev.SignedAt.UTC().Format(SignedAtLayout),
		StoredEventHash:         ev.EventHash,
		SignedArtifactHashValid: artifact,
	}
	computed, err := EventHash(ev)
	if err != nil {
		r.Problems = append(r.Problems, "event hash: "+err.Error())
	} else {
		r.ComputedEventHash = computed
		r.EventHashValid = canonhash.Equal(computed, ev.EventHash)
	}
	if docErr != nil {
		r.Problems = append(r.Problems, "document hash: "+docErr.Error())
	} else {
		r.DocumentHashValid = canonhash.Equal(docHash, ev.DocumentSHA256)
	}
	if artErr != nil {
		r.Problems = append(r.Problems, "signed artifact: "+artErr.Error())
	}
	r.OverallValid = r.EventHashValid && r.DocumentHashValid && (artifact == nil || *artifact)
	if !r.OverallValid {
		c.logger.Warn("audit mismatch",
			zap.String("event_id", ev.ID),
			zap.String("document_id", ev.DocumentID),
			zap.Bool("event_hash_valid", r.EventHashValid),
			zap.Bool("document_hash_valid", r.DocumentHashValid))
	}
	return r
}

// artifactValid returns nil when the document has no signed artifact yet.
func (c *Chain) artifactValid(ctx context.Context, doc domain.Document) (*bool, error) {
	if !doc.HasSignedArtifact() {
		return nil, nil
	}
	valid := false
	b, err := c.blobs.Get(ctx, doc.SignedFileKey)
	if err != nil {
		return &valid, err
	}
	valid = canonhash.Equal(canonhash.SumBytes(b), doc.SignedFileSHA256)
	return &valid, nil
}

type DocumentReport struct {
	DocumentID              string   `json:"document_id"`
	Status                  string   `json:"status"`
	CurrentDocumentSHA256   string   `json:"current_document_sha256,omitempty"`
	SignedArtifactHashValid *bool    `json:"signed_artifact_hash_valid"`
	Events                  []Report `json:"events"`
	OverallValid            bool     `json:"overall_valid"`
}

// VerifyDocument checks every signature event of a document. A document
// without events is valid when its signed artifact, if any, is intact.
func (c *Chain) VerifyDocument(ctx context.Context, documentID string) (DocumentReport, error) {
	doc, err := c.repo.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DocumentReport{}, domain.NotFound("document", documentID)
		}
		return DocumentReport{}, fmt.Errorf("load document: %w", err)
	}
	events, err := c.repo.ListSignatureEvents(ctx, documentID)
	if err != nil {
		return DocumentReport{}, fmt.Errorf("list signature events: %w", err)
	}

	docHash, docErr := c.DocumentHash(ctx, doc)
	artifact, artErr := c.artifactValid(ctx, doc)
	rep := DocumentReport{
		DocumentID:              doc.ID,
		Status:                  string(doc.Status),
		CurrentDocumentSHA256:   docHash,
		SignedArtifactHashValid: artifact,
		Events:                  make([]Report, 0, len(events)),
		OverallValid:            artErr == nil && (artifact == nil || *artifact),
	}
	for _, ev := range events {
		r := c.verify(ev, docHash, docErr, artifact, artErr)
		rep.OverallValid = rep.OverallValid && r.OverallValid
		rep.Events = append(rep.Events, r)
	}
	return rep, nil
}

// ArtifactHash is the digest recorded for a flattened signed artifact.
func ArtifactHash(pdf []byte) string { return canonhash.SumBytes(pdf) }
