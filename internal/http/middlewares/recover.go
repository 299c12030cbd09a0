package middlewares

import (
	"net/http"

	httperrors "github.com/dropDatabas3/keyrelay/internal/http/errors"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"go.uber.org/zap"
)

// WithRecover convierte un panic del handler en 500.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.From(r.Context()).Error("panic recovered", logger.Op("recover"), zap.Any("panic", rec))
					httperrors.WriteError(w, httperrors.ErrInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WithNoStore agrega Cache-Control: no-store (tokens, claims, claves).
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
