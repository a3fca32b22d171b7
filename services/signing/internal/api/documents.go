package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/httpx"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/recipients"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/signing"
)

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string              `json:"title"`
		File   []byte              `json:"file"`
		Fields []signing.FieldSpec `json:"fields"`
	}
	if !s.decodeLimit(w, r, &req, s.MaxUploadBytes) {
		return
	}
	doc, fields, err := s.Processor.CreateDocument(r.Context(), req.Title, req.File, req.Fields)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"request_id": httpx.RequestID(r),
		"document":   doc,
		"fields":     fields,
	})
}

func (s *Server) lockDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Processor.LockDocument(r.Context(), chi.URLParam(r, "document_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.RequestID(r), "document": doc})
}

func (s *Server) issueLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope      domain.TokenScope `json:"scope"`
		Recipient  string            `json:"recipient"`
		TTLSeconds int64             `json:"ttl_seconds"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.TTLSeconds < 0 {
		s.fail(w, r, domain.Malformed("ttl_seconds must not be negative"))
		return
	}
	docID, ttl := chi.URLParam(r, "document_id"), time.Duration(req.TTLSeconds)*time.Second
	var (
		tok domain.SigningToken
		err error
	)
	switch req.Scope {
	case domain.ScopeSign:
		tok, err = s.Tokens.IssueSignLink(r.Context(), docID, req.Recipient, ttl)
	case domain.ScopeView:
		if req.Recipient != "" {
			s.fail(w, r, domain.Malformed("view links carry no recipient"))
			return
		}
		tok, err = s.Tokens.IssueViewLink(r.Context(), docID, ttl)
	default:
		tok, err = s.Tokens.Issue(r.Context(), docID, req.Scope, req.Recipient, ttl)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"request_id": httpx.RequestID(r), "link": tok})
}

func (s *Server) revokeLink(w http.ResponseWriter, r *http.Request) {
	if err := s.Tokens.Revoke(r.Context(), chi.URLParam(r, "token")); err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.RequestID(r), "revoked": true})
}

func (s *Server) viewLink(w http.ResponseWriter, r *http.Request) {
	link, err := s.Tokens.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, link)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SignerName  string              `json:"signer_name"`
		FieldValues []domain.FieldValue `json:"field_values"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Processor.Submit(r.Context(), signing.Request{
		Token:       chi.URLParam(r, "token"),
		SignerName:  req.SignerName,
		FieldValues: req.FieldValues,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) documentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "document_id")
	doc, err := s.Store.GetDocument(r.Context(), id)
	if err != nil {
		s.fail(w, r, notFound(err, "document", id))
		return
	}
	fields, err := s.Store.ListFields(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"document_id":        doc.ID,
		"status":             doc.Status,
		"recipient_ids":      recipients.Recipients(fields),
		"recipients":         recipients.StatusOf(fields),
		"signed_file_sha256": doc.SignedFileSHA256,
	})
}

func (s *Server) documentAudit(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Chain.VerifyDocument(r.Context(), chi.URLParam(r, "document_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rep)
}

// downloadSigned serves the flattened artifact, producing it first if the
// attempt made at completion failed.
func (s *Server) downloadSigned(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Processor.EnsureSignedArtifact(r.Context(), chi.URLParam(r, "document_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pdf, err := s.Blobs.Get(r.Context(), doc.SignedFileKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("X-Content-SHA256", doc.SignedFileSHA256)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
