package middlewares

import (
	"net/http"
	"strings"

	httperrors "github.com/dropDatabas3/keyrelay/internal/http/errors"
	"github.com/dropDatabas3/keyrelay/internal/jwt"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
)

type authOptions struct {
	exact  map[string]struct{}
	prefix []string
}

type AuthOption func(*authOptions)

// WithPublicPaths marca rutas que no requieren token. Un path terminado en "*"
// es prefijo ("/public/*").
func WithPublicPaths(paths ...string) AuthOption {
	return func(o *authOptions) {
		for _, p := range paths {
			if strings.HasSuffix(p, "*") {
				o.prefix = append(o.prefix, strings.TrimSuffix(p, "*"))
				continue
			}
			o.exact[p] = struct{}{}
		}
	}
}

func (o *authOptions) public(path string) bool {
	if _, ok := o.exact[path]; ok {
		return true
	}
	for _, p := range o.prefix {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// RequireAuth exige Authorization: Bearer <token> salvo en rutas públicas.
// Cualquier rechazo es 401 con el mismo cuerpo; el motivo sólo va a logs y métricas.
func RequireAuth(gate *Gate, opts ...AuthOption) Middleware {
	o := &authOptions{exact: map[string]struct{}{}}
	for _, fn := range opts {
		fn(o)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if o.public(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ah := strings.TrimSpace(r.Header.Get("Authorization"))
			if ah == "" || !hasBearerPrefix(ah) {
				httperrors.WriteUnauthorized(w, httperrors.ErrTokenMissing)
				return
			}

			ctx, claims, err := gate.Authenticate(r.Context(), ah)
			if err != nil {
				kind := "unknown"
				if k, ok := jwt.KindOf(err); ok {
					kind = k.String()
				}
				logger.From(r.Context()).Debug("request not authenticated", logger.Kind(kind), logger.Path(r.URL.Path))
				httperrors.WriteUnauthorized(w, httperrors.ErrUnauthorized.WithCause(err))
				return
			}

			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.Subject(claims.Subject)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
