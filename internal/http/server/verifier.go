package server

import (
	"net/http"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/cache"
	httperrors "github.com/dropDatabas3/keyrelay/internal/http/errors"
	mw "github.com/dropDatabas3/keyrelay/internal/http/middlewares"
	"github.com/go-chi/chi/v5"
)

// VerifierDeps son las dependencias del rol verifier.
type VerifierDeps struct {
	Store cache.Client
	Gate  *mw.Gate
	// PublicPaths se suman a /healthz y /metrics.
	PublicPaths []string
	Metrics     http.Handler
}

// NewVerifierRouter monta /healthz y /metrics públicos y GET /v1/whoami protegido.
// Todo lo demás pasa por el gate.
func NewVerifierRouter(d VerifierDeps) http.Handler {
	r := newRouter()
	public := append([]string{"/healthz", "/metrics"}, d.PublicPaths...)
	r.Use(mw.RequireAuth(d.Gate, mw.WithPublicPaths(public...)))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp, ok := pingStore(r.Context(), d.Store)
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.WithNoStore())
		r.Get("/v1/whoami", whoami)
	})
	return withFallbacks(r)
}

type whoamiResponse struct {
	Subject   string         `json:"sub"`
	Roles     []string       `json:"roles,omitempty"`
	TokenType string         `json:"token_type,omitempty"`
	IssuedAt  time.Time      `json:"iat"`
	ExpiresAt time.Time      `json:"exp"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func whoami(w http.ResponseWriter, r *http.Request) {
	c, ok := mw.ClaimsFrom(r.Context())
	if !ok {
		httperrors.WriteUnauthorized(w, httperrors.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, whoamiResponse{
		Subject:   c.Subject,
		Roles:     c.Roles,
		TokenType: string(c.TokenType),
		IssuedAt:  c.IssuedAt,
		ExpiresAt: c.ExpiresAt,
		Extra:     c.Extra,
	})
}
