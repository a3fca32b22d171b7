package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/httpx"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
)

func (s *Server) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Secret string   `json:"secret"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	hook, err := s.Dispatcher.Register(r.Context(), req.URL, req.Events, req.Secret)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// The secret is only ever shown here.
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"request_id": httpx.RequestID(r),
		"webhook":    hook,
		"secret":     hook.Secret,
	})
}

func (s *Server) getWebhookEvent(w http.ResponseWriter, r *http.Request) {
	ev, logs, err := s.Dispatcher.Event(r.Context(), chi.URLParam(r, "event_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []domain.WebhookDeliveryLog{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"event": ev, "deliveries": logs})
}

func (s *Server) redeliver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "event_id")
	if err := s.Dispatcher.Redeliver(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"request_id": httpx.RequestID(r),
		"event_id":   id,
		"status":     domain.WebhookRetrying,
	})
}
