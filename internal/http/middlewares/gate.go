package middlewares

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/keyrelay/internal/jwt"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"go.uber.org/zap"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// TokenValidator valida un token crudo (jwt.Validator).
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*jwt.Claims, error)
}

// Gate autentica credenciales bearer y adjunta las claims al contexto.
type Gate struct {
	v   TokenValidator
	log *zap.Logger
}

type GateOption func(*Gate)

func WithGateLogger(l *zap.Logger) GateOption {
	return func(g *Gate) { g.log = l }
}

func NewGate(v TokenValidator, opts ...GateOption) (*Gate, error) {
	if v == nil {
		return nil, errors.New("middlewares: gate requires a validator")
	}
	g := &Gate{v: v}
	for _, o := range opts {
		o(g)
	}
	if g.log == nil {
		g.log = logger.Named("gate")
	}
	return g, nil
}

// Authenticate valida raw (con o sin prefijo "Bearer ") y retorna ctx con las claims.
// Los errores envuelven ErrUnauthenticated y el *jwt.ValidationError original.
func (g *Gate) Authenticate(ctx context.Context, raw string) (context.Context, *jwt.Claims, error) {
	tok := stripBearer(raw)
	if tok == "" {
		return ctx, nil, fmt.Errorf("%w: %w", ErrUnauthenticated, jwt.ErrMalformedToken)
	}
	claims, err := g.v.Validate(ctx, tok)
	if err != nil {
		return ctx, nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return WithClaims(ctx, claims), claims, nil
}

func stripBearer(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "bearer") {
		return ""
	}
	if hasBearerPrefix(raw) {
		raw = strings.TrimSpace(raw[len("bearer "):])
	}
	return raw
}

func hasBearerPrefix(s string) bool {
	return len(s) >= len("bearer ") && strings.EqualFold(s[:len("bearer ")], "bearer ")
}
