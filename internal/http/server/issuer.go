package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/cache"
	httperrors "github.com/dropDatabas3/keyrelay/internal/http/errors"
	mw "github.com/dropDatabas3/keyrelay/internal/http/middlewares"
	"github.com/dropDatabas3/keyrelay/internal/jwt"
	"github.com/dropDatabas3/keyrelay/internal/keys"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"github.com/go-chi/chi/v5"
)

// IssuerDeps son las dependencias del rol issuer.
type IssuerDeps struct {
	Store   cache.Client
	Rotator *keys.Rotator
	Issuer  *jwt.Issuer
	// APIKey protege POST /v1/tokens; vacía => la ruta responde 503.
	APIKey string
	// Metrics es el handler de /metrics; nil no lo monta.
	Metrics http.Handler
}

// NewIssuerRouter monta:
//
//	POST /v1/tokens        emite un token para claims provistas (callers internos, X-API-Key)
//	GET  /v1/keys/current  kid/alg/clave pública vigente
//	GET  /healthz
//	GET  /metrics
func NewIssuerRouter(d IssuerDeps) http.Handler {
	h := &issuerHandlers{d: d}
	r := newRouter()
	r.Get("/healthz", h.healthz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.WithNoStore())
		r.With(mw.RequireAPIKey(d.APIKey)).Post("/v1/tokens", h.issue)
		r.Get("/v1/keys/current", h.currentKey)
	})
	return withFallbacks(r)
}

type issuerHandlers struct {
	d IssuerDeps
}

type issueRequest struct {
	Subject   string         `json:"sub"`
	Roles     []string       `json:"roles,omitempty"`
	TokenType string         `json:"token_type,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

type issueResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *issuerHandlers) issue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httperrors.WriteError(w, httperrors.ErrBodyTooLarge)
			return
		}
		httperrors.WriteError(w, httperrors.ErrInvalidJSON.WithCause(err))
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("sub is required"))
		return
	}

	claims := jwt.Claims{Subject: req.Subject, Roles: req.Roles, Extra: req.Extra}
	var (
		tok string
		exp time.Time
		err error
	)
	switch jwt.TokenType(req.TokenType) {
	case "", jwt.TokenAccess:
		tok, exp, err = h.d.Issuer.IssueAccess(claims)
		req.TokenType = string(jwt.TokenAccess)
	case jwt.TokenRefresh:
		tok, exp, err = h.d.Issuer.IssueRefresh(claims)
	default:
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("token_type must be access or refresh"))
		return
	}
	if err != nil {
		if errors.Is(err, keys.ErrNoActiveKey) || errors.Is(err, jwt.ErrOutlivesKey) {
			httperrors.WriteError(w, httperrors.ErrNoSigningKey.WithCause(err))
			return
		}
		logger.From(r.Context()).Error("token issue failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
		return
	}

	writeJSON(w, http.StatusCreated, issueResponse{Token: tok, TokenType: req.TokenType, ExpiresAt: exp})
}

type currentKeyResponse struct {
	keys.PublicKeyRecord
	PublishedUntil time.Time `json:"publishedUntil"`
	History        []string  `json:"history"`
}

func (h *issuerHandlers) currentKey(w http.ResponseWriter, r *http.Request) {
	pair, err := h.d.Rotator.Current()
	if err != nil {
		httperrors.WriteError(w, httperrors.ErrNoSigningKey.WithCause(err))
		return
	}
	rec, err := keys.NewRecord(pair, 0)
	if err != nil {
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, currentKeyResponse{
		PublicKeyRecord: rec,
		PublishedUntil:  pair.PublishedUntil(),
		History:         h.d.Rotator.History(),
	})
}

type healthResponse struct {
	Status     string `json:"status"`
	Store      string `json:"store"`
	SigningKey *bool  `json:"signing_key,omitempty"`
}

func (h *issuerHandlers) healthz(w http.ResponseWriter, r *http.Request) {
	resp, ok := pingStore(r.Context(), h.d.Store)
	_, err := h.d.Rotator.Current()
	hasKey := err == nil
	resp.SigningKey = &hasKey
	if !hasKey {
		ok = false
		resp.Status = "degraded"
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func pingStore(ctx context.Context, store cache.Client) (healthResponse, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		logger.From(ctx).Warn("store ping failed", logger.Err(err))
		return healthResponse{Status: "degraded", Store: "unavailable"}, false
	}
	return healthResponse{Status: "ok", Store: "ok"}, true
}
