package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/keys"
	"github.com/dropDatabas3/keyrelay/internal/metrics"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// KeySource entrega la clave de firma vigente (keys.Rotator).
type KeySource interface {
	Current() (*keys.SigningKeyPair, error)
}

// IssuerConfig define los TTL de IssueAccess/IssueRefresh.
type IssuerConfig struct {
	AccessTTL  time.Duration // default 15m
	RefreshTTL time.Duration // default 24h
}

// Issuer firma tokens con la clave actual del rotator.
type Issuer struct {
	keys KeySource
	cfg  IssuerConfig
	now  func() time.Time
	log  *zap.Logger
}

type IssuerOption func(*Issuer)

func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

func WithIssuerLogger(l *zap.Logger) IssuerOption {
	return func(i *Issuer) { i.log = l }
}

func NewIssuer(src KeySource, cfg IssuerConfig, opts ...IssuerOption) (*Issuer, error) {
	if src == nil {
		return nil, errors.New("jwt: issuer requires a key source")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}
	i := &Issuer{keys: src, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(i)
	}
	if i.log == nil {
		i.log = logger.Named("issuer")
	}
	return i, nil
}

// Issue firma claims con iat/exp explícitos (granularidad de segundos).
// Header: kid, alg, typ=JWT.
func (i *Issuer) Issue(c Claims, issuedAt, expiresAt time.Time) (string, error) {
	if expiresAt.Unix() <= issuedAt.Unix() {
		return "", fmt.Errorf("%w: exp %s not after iat %s", ErrInvalidLifetime, expiresAt, issuedAt)
	}

	pair, err := i.keys.Current()
	if err != nil {
		return "", err
	}
	// Un token no puede vivir más que el registro público de su kid.
	if until := pair.PublishedUntil(); !until.IsZero() && expiresAt.After(until) {
		return "", fmt.Errorf("%w: exp %s, kid %s published until %s", ErrOutlivesKey, expiresAt.UTC(), pair.KID, until)
	}

	method, err := signingMethod(pair.Alg)
	if err != nil {
		return "", err
	}

	tk := jwtv5.NewWithClaims(method, c.toMap(issuedAt, expiresAt))
	tk.Header["kid"] = pair.KID
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(pair.Private)
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}

	typ := string(c.TokenType)
	if typ == "" {
		typ = "untyped"
	}
	metrics.TokensIssued.WithLabelValues(typ).Inc()
	i.log.Debug("token issued", logger.KID(pair.KID), logger.Subject(c.Subject), logger.TokenType(typ))
	return signed, nil
}

// IssueAccess emite un access token con AccessTTL desde ahora.
func (i *Issuer) IssueAccess(c Claims) (string, time.Time, error) {
	return i.issueTyped(c, TokenAccess, i.cfg.AccessTTL)
}

// IssueRefresh emite un refresh token con RefreshTTL desde ahora.
func (i *Issuer) IssueRefresh(c Claims) (string, time.Time, error) {
	return i.issueTyped(c, TokenRefresh, i.cfg.RefreshTTL)
}

func (i *Issuer) issueTyped(c Claims, typ TokenType, ttl time.Duration) (string, time.Time, error) {
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	c.TokenType = typ
	tok, err := i.Issue(c, now, exp)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

func signingMethod(alg keys.Algorithm) (jwtv5.SigningMethod, error) {
	switch alg {
	case keys.RS256:
		return jwtv5.SigningMethodRS256, nil
	case keys.EdDSA:
		return jwtv5.SigningMethodEdDSA, nil
	}
	return nil, fmt.Errorf("%w: %q", keys.ErrUnsupportedAlgorithm, alg)
}
