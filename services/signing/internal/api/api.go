// Package api is the HTTP transport of the signing engine.
package api

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/httpx"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/audit"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/blobs"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/groups"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/idempotency"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/signing"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/store"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/tokens"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/webhooks"
)

// Deps are the components the handlers call into.
type Deps struct {
	Store      store.Store
	Blobs      blobs.Store
	Tokens     *tokens.Manager
	Processor  *signing.Processor
	Chain      *audit.Chain
	Groups     *groups.Service
	Dispatcher *webhooks.Dispatcher
	Logger     *zap.Logger

	// MaxUploadBytes caps the POST /documents body, which carries the
	// base64 PDF. Zero means DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

const DefaultMaxUploadBytes = 64 << 20

type Server struct {
	Deps
	logger *zap.Logger
}

func New(d Deps) *Server {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{Deps: d, logger: d.Logger.With(zap.String("component", "api"))}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	idem := idempotency.Middleware(s.Store, s.Logger)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.createDocument)
		r.Route("/{document_id}", func(r chi.Router) {
			r.Post("/lock", s.lockDocument)
			r.Post("/links", s.issueLink)
			r.Get("/status", s.documentStatus)
			r.Get("/audit", s.documentAudit)
			r.Get("/signed", s.downloadSigned)
		})
	})
	r.Post("/links/{token}/revoke", s.revokeLink)
	r.Get("/sign/{token}", s.viewLink)
	r.With(idem).Post("/sign/{token}", s.submit)

	r.Route("/groups", func(r chi.Router) {
		r.Post("/", s.createGroup)
		r.Get("/{group_id}", s.getGroup)
		r.Post("/{group_id}/lock", s.lockGroup)
		r.Post("/{group_id}/sessions", s.startSession)
	})
	r.Route("/group-sessions/{token}", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Get("/next", s.nextInSession)
		r.With(idem).Post("/submit", s.submitInSession)
		r.Post("/cancel", s.cancelSession)
	})

	r.Post("/webhooks", s.registerWebhook)
	r.Get("/webhook-events/{event_id}", s.getWebhookEvent)
	r.Post("/webhook-events/{event_id}/redeliver", s.redeliver)
	return r
}

// accessLog logs the route pattern rather than the path so link tokens stay
// out of the logs.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.logger.Debug("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	var de *domain.Error
	if errors.As(err, &de) && de.Conflict {
		return http.StatusConflict
	}
	switch domain.CodeOf(err) {
	case domain.CodeMalformedPayload, domain.CodeFieldOwnershipViolation, domain.CodeMissingRequiredFields, domain.CodeRecipientRequired:
		return http.StatusBadRequest
	case domain.CodeNotASignLink:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyCompleted, domain.CodeDuplicateActiveToken, domain.CodeSessionClosed, domain.CodeNotRedeliverable:
		return http.StatusConflict
	case domain.CodeTokenInvalid:
		return http.StatusGone
	case domain.CodeDocumentNotReady, domain.CodeGroupNotReady, domain.CodeRecipientHasNoFields:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	var de *domain.Error
	if !errors.As(err, &de) {
		s.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.Error(err))
		httpx.WriteError(w, r, status, "INTERNAL", "internal error", nil)
		return
	}
	details := map[string]any{}
	if de.Reason != "" {
		details["reason"] = de.Reason
	}
	if len(de.Fields) > 0 {
		details["fields"] = de.Fields
	}
	if de.Conflict {
		details["conflict"] = true
	}
	if len(details) == 0 {
		details = nil
	}
	httpx.WriteError(w, r, status, string(de.Code), de.Message, details)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decodeLimit(w, r, dst, 0)
}

// decodeLimit reads the body with a custom cap; zero keeps the default one.
func (s *Server) decodeLimit(w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	var err error
	if limit > 0 {
		err = httpx.ReadJSONLimit(w, r, dst, limit)
	} else {
		err = httpx.ReadJSON(w, r, dst)
	}
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, string(domain.CodeMalformedPayload), "invalid json body", map[string]any{"reason": err.Error()})
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
