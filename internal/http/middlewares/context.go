package middlewares

import (
	"context"

	"github.com/dropDatabas3/keyrelay/internal/jwt"
)

type ctxKey string

const (
	ctxClaimsKey    ctxKey = "claims"
	ctxRequestIDKey ctxKey = "request_id"
)

// WithClaims adjunta las claims validadas al contexto.
func WithClaims(ctx context.Context, c *jwt.Claims) context.Context {
	return context.WithValue(ctx, ctxClaimsKey, c)
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// ClaimsFrom retorna las claims adjuntadas por el gate.
func ClaimsFrom(ctx context.Context) (*jwt.Claims, bool) {
	c, ok := ctx.Value(ctxClaimsKey).(*jwt.Claims)
	return c, ok && c != nil
}

// SubjectFrom retorna el sub autenticado o "".
func SubjectFrom(ctx context.Context) string {
	if c, ok := ClaimsFrom(ctx); ok {
		return c.Subject
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return s
	}
	return ""
}
