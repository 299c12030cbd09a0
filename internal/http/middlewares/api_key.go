package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/keyrelay/internal/http/errors"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
)

// APIKeyHeader es el header que llevan los callers internos del issuer.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey exige que APIKeyHeader coincida con key. Con key vacía la ruta
// queda cerrada (503): emitir tokens nunca es público por omisión.
func RequireAPIKey(key string) Middleware {
	want := []byte(strings.TrimSpace(key))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(want) == 0 {
				httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithDetail("issue api key not configured"))
				return
			}
			got := []byte(strings.TrimSpace(r.Header.Get(APIKeyHeader)))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				logger.From(r.Context()).Warn("api key rejected", logger.Path(r.URL.Path))
				httperrors.WriteError(w, httperrors.ErrInvalidAPIKey)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
