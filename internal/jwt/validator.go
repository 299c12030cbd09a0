package jwt

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/keys"
	"github.com/dropDatabas3/keyrelay/internal/metrics"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// KeyResolver resuelve la clave pública de un kid (vault.Resolver).
type KeyResolver interface {
	Resolve(ctx context.Context, kid string) (crypto.PublicKey, error)
}

type ValidatorConfig struct {
	// Algorithm es el único alg aceptado.
	Algorithm keys.Algorithm
	// ClockSkew tolerado sobre iat. exp no tiene tolerancia.
	ClockSkew time.Duration
}

// Validator verifica tokens: parse, kid, resolución de clave, firma, tiempos, claims.
// Es seguro para uso concurrente.
type Validator struct {
	res    KeyResolver
	cfg    ValidatorConfig
	parser *jwtv5.Parser
	now    func() time.Time
	log    *zap.Logger
}

type ValidatorOption func(*Validator)

// WithClock inyecta el reloj usado para exp/iat.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

func WithValidatorLogger(l *zap.Logger) ValidatorOption {
	return func(v *Validator) { v.log = l }
}

func NewValidator(res KeyResolver, cfg ValidatorConfig, opts ...ValidatorOption) (*Validator, error) {
	if res == nil {
		return nil, errors.New("jwt: validator requires a key resolver")
	}
	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}
	v := &Validator{
		res: res,
		cfg: cfg,
		// Los tiempos se validan a mano con el reloj inyectado.
		parser: jwtv5.NewParser(
			jwtv5.WithValidMethods([]string{method.Alg()}),
			jwtv5.WithoutClaimsValidation(),
			jwtv5.WithJSONNumber(),
		),
		now: time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	if v.log == nil {
		v.log = logger.Named("validator")
	}
	return v, nil
}

// Validate retorna las claims de un token válido o un *ValidationError.
func (v *Validator) Validate(ctx context.Context, token string) (*Claims, error) {
	c, verr := v.validate(ctx, token)
	if verr != nil {
		metrics.TokenValidations.WithLabelValues(verr.Kind.String()).Inc()
		v.log.Debug("token rejected", logger.Kind(verr.Kind.String()), logger.Err(verr.Err))
		return nil, verr
	}
	metrics.TokenValidations.WithLabelValues("ok").Inc()
	return c, nil
}

func (v *Validator) validate(ctx context.Context, token string) (*Claims, *ValidationError) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fail(KindMalformed, errors.New("empty token"))
	}

	// El parser chequea alg antes de llamar al keyfunc; el kid se exige antes.
	hdr, _, err := v.parser.ParseUnverified(token, jwtv5.MapClaims{})
	if err != nil {
		return nil, classify(err)
	}
	if kid, ok := hdr.Header["kid"].(string); !ok || kid == "" {
		return nil, fail(KindMissingKeyID, nil)
	}

	keyfunc := func(t *jwtv5.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fail(KindMissingKeyID, nil)
		}
		pub, err := v.res.Resolve(ctx, kid)
		if err != nil {
			return nil, fail(KindPublicKeyNotFound, err)
		}
		return pub, nil
	}

	tok, err := v.parser.Parse(token, keyfunc)
	if err != nil {
		return nil, classify(err)
	}

	mc, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, fail(KindMalformed, fmt.Errorf("unexpected claims type %T", tok.Claims))
	}

	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fail(KindMalformed, errors.New("exp missing or invalid"))
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, fail(KindMalformed, errors.New("iat missing or invalid"))
	}

	now := v.now()
	if !exp.Time.After(now) {
		return nil, fail(KindExpired, fmt.Errorf("expired at %s", exp.Time.UTC()))
	}
	if iat.Time.After(now.Add(v.cfg.ClockSkew)) {
		return nil, fail(KindNotYetValid, fmt.Errorf("issued at %s", iat.Time.UTC()))
	}

	c, err := claimsFromMap(mc, iat.Time.UTC(), exp.Time.UTC())
	if err != nil {
		return nil, fail(KindMalformed, err)
	}
	return c, nil
}

// classify traduce los errores del parser a un Kind.
func classify(err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	switch {
	case errors.Is(err, jwtv5.ErrTokenMalformed):
		return fail(KindMalformed, err)
	case errors.Is(err, jwtv5.ErrTokenSignatureInvalid):
		return fail(KindInvalidSignature, err)
	case errors.Is(err, jwtv5.ErrTokenUnverifiable):
		// alg desconocido o ausente en el header.
		return fail(KindInvalidSignature, err)
	}
	return fail(KindMalformed, err)
}
