// Package idempotency replays the first response of a mutating request
// when the client retries it with the same Idempotency-Key.
package idempotency

import (
	"bytes"
	"context"
	"net/http"

	"go.uber.org/zap"
)

const (
	HeaderKey    = "Idempotency-Key"
	HeaderReplay = "Idempotency-Replayed"
)

type Store interface {
	GetIdempotencyRecord(ctx context.Context, key, endpoint string) (int, []byte, bool, error)
	SaveIdempotencyRecord(ctx context.Context, key, endpoint string, status int, body []byte) error
}

func Replay(ctx context.Context, st Store, key, endpoint string) (int, []byte, bool, error) {
	if key == "" {
		return 0, nil, false, nil
	}
	status, body, found, err := st.GetIdempotencyRecord(ctx, key, endpoint)
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	return status, body, true, nil
}

// Save records a response. Server errors are not recorded so the client can
// retry them.
func Save(ctx context.Context, st Store, key, endpoint string, status int, body []byte) error {
	if key == "" || status >= http.StatusInternalServerError {
		return nil
	}
	return st.SaveIdempotencyRecord(ctx, key, endpoint, status, body)
}

// Endpoint scopes a key to the method and concrete path, tokens included.
func Endpoint(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// Middleware replays recorded responses for requests carrying an
// Idempotency-Key and records fresh ones. Requests without the header pass
// through untouched.
func Middleware(st Store, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.With(zap.String("component", "idempotency"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			endpoint := Endpoint(r)
			status, body, replayed, err := Replay(r.Context(), st, key, endpoint)
			if err != nil {
				logger.Warn("idempotency lookup failed", zap.String("endpoint", endpoint), zap.Error(err))
			}
			if replayed {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderReplay, "true")
				w.WriteHeader(status)
				_, _ = w.Write(body)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if err := Save(r.Context(), st, key, endpoint, rec.status, rec.body.Bytes()); err != nil {
				logger.Warn("idempotency save failed", zap.String("endpoint", endpoint), zap.Error(err))
			}
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	wrote  bool
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wrote = true
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
