package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/httpx"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/groups"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
)

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string   `json:"title"`
		DocumentIDs []string `json:"document_ids"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	g, err := s.Groups.Create(r.Context(), req.Title, req.DocumentIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"request_id": httpx.RequestID(r), "group": g})
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.Groups.Get(r.Context(), chi.URLParam(r, "group_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, g)
}

func (s *Server) lockGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.Groups.Lock(r.Context(), chi.URLParam(r, "group_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.RequestID(r), "group": g})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.Groups.StartSession(r.Context(), chi.URLParam(r, "group_id"), req.Recipient)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"request_id": httpx.RequestID(r), "session": sess})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Groups.Session(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) nextInSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.Groups.Next(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) submitInSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SignerName  string              `json:"signer_name"`
		FieldValues []domain.FieldValue `json:"field_values"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Groups.Submit(r.Context(), chi.URLParam(r, "token"), groups.SubmitRequest{
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

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Groups.Cancel(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request_id": httpx.RequestID(r), "session": sess})
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(kind, id)
	}
	return err
}
