package jwt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/keyrelay/internal/cache"
	"github.com/dropDatabas3/keyrelay/internal/keys"
	"github.com/dropDatabas3/keyrelay/internal/vault"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type env struct {
	store     cache.Client
	rotator   *keys.Rotator
	resolver  *vault.Resolver
	issuer    *Issuer
	validator *Validator
	now       time.Time
}

func newEnv(t *testing.T, alg keys.Algorithm) *env {
	t.Helper()
	e := &env{
		store: cache.NewMemory("test"),
		now:   time.Now().UTC().Truncate(time.Second),
	}

	pub, err := keys.NewPublisher(e.store, keys.PublisherConfig{
		MaxTokenTTL:      24 * time.Hour,
		SafetyMargin:     10 * time.Minute,
		RotationInterval: time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)

	e.rotator, err = keys.NewRotator(pub, keys.RotatorConfig{Algorithm: alg, Interval: time.Hour}, keys.WithRotatorLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, e.rotator.Rotate(context.Background()))

	e.resolver, err = vault.New(e.store, vault.Config{
		Algorithm:   alg,
		LocalTTL:    time.Minute,
		NegativeTTL: time.Second,
	}, vault.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	e.issuer, err = NewIssuer(e.rotator, IssuerConfig{AccessTTL: 15 * time.Minute, RefreshTTL: 12 * time.Hour},
		WithIssuerLogger(zap.NewNop()),
		WithIssuerClock(func() time.Time { return e.now }))
	require.NoError(t, err)

	e.validator = e.validatorAt(t, alg, func() time.Time { return e.now })
	return e
}

func (e *env) validatorAt(t *testing.T, alg keys.Algorithm, clock func() time.Time) *Validator {
	t.Helper()
	v, err := NewValidator(e.resolver, ValidatorConfig{Algorithm: alg, ClockSkew: 30 * time.Second},
		WithClock(clock), WithValidatorLogger(zap.NewNop()))
	require.NoError(t, err)
	return v
}

func (e *env) issue(t *testing.T, c Claims, ttl time.Duration) string {
	t.Helper()
	tok, err := e.issuer.Issue(c, e.now, e.now.Add(ttl))
	require.NoError(t, err)
	return tok
}

// signRaw firma claims arbitrarias con la clave actual, para armar tokens inválidos a mano.
func (e *env) signRaw(t *testing.T, claims jwtv5.MapClaims, kid *string) string {
	t.Helper()
	pair, err := e.rotator.Current()
	require.NoError(t, err)
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	if kid != nil {
		tk.Header["kid"] = *kid
	}
	s, err := tk.SignedString(pair.Private)
	require.NoError(t, err)
	return s
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	require.Error(t, err)
	got, ok := KindOf(err)
	require.True(t, ok, "not a validation error: %v", err)
	assert.Equal(t, want, got, "error: %v", err)
}

func TestRoundTrip(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	in := Claims{
		Subject:   "user-42",
		Roles:     []string{"admin", "billing"},
		TokenType: TokenAccess,
		Extra: map[string]any{
			"tenant": "acme",
			"scopes": []any{"read", "write"},
			"meta":   map[string]any{"region": "sa-east-1"},
			"level":  3,
		},
	}
	tok := e.issue(t, in, 15*time.Minute)

	out, err := e.validator.Validate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, in.Subject, out.Subject)
	assert.Equal(t, in.Roles, out.Roles)
	assert.Equal(t, in.TokenType, out.TokenType)
	assert.True(t, out.IssuedAt.Equal(e.now))
	assert.True(t, out.ExpiresAt.Equal(e.now.Add(15*time.Minute)))
	assert.Equal(t, "acme", out.Extra["tenant"])
	assert.Equal(t, []any{"read", "write"}, out.Extra["scopes"])
	assert.Equal(t, map[string]any{"region": "sa-east-1"}, out.Extra["meta"])
	assert.Equal(t, json.Number("3"), out.Extra["level"])
	assert.Len(t, out.Extra, 4)
}

func TestRoundTrip_RS256(t *testing.T) {
	e := newEnv(t, keys.RS256)
	tok := e.issue(t, Claims{Subject: "svc", TokenType: TokenRefresh}, time.Hour)

	out, err := e.validator.Validate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "svc", out.Subject)
	assert.Nil(t, out.Roles)
	assert.Nil(t, out.Extra)
}

func TestIssue_ReservedClaimsWinOverExtra(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	tok := e.issue(t, Claims{Subject: "real", Extra: map[string]any{"sub": "spoofed", "exp": 1}}, time.Minute)

	out, err := e.validator.Validate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "real", out.Subject)
	assert.Empty(t, out.Extra)
}

func TestIssue_HeaderCarriesKID(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	tok := e.issue(t, Claims{Subject: "u"}, time.Minute)

	parsed, _, err := jwtv5.NewParser().ParseUnverified(tok, jwtv5.MapClaims{})
	require.NoError(t, err)
	cur, _ := e.rotator.Current()
	assert.Equal(t, cur.KID, parsed.Header["kid"])
	assert.Equal(t, "EdDSA", parsed.Header["alg"])
	assert.Equal(t, "JWT", parsed.Header["typ"])
}

func TestIssue_Errors(t *testing.T) {
	e := newEnv(t, keys.EdDSA)

	_, err := e.issuer.Issue(Claims{}, e.now, e.now)
	assert.ErrorIs(t, err, ErrInvalidLifetime)
	_, err = e.issuer.Issue(Claims{}, e.now, e.now.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrInvalidLifetime)

	_, err = e.issuer.Issue(Claims{}, e.now, e.now.Add(48*time.Hour))
	assert.ErrorIs(t, err, ErrOutlivesKey)
}

func TestIssue_NoKeyBeforeFirstPublish(t *testing.T) {
	pub, err := keys.NewPublisher(cache.NewMemory(""), keys.PublisherConfig{MaxTokenTTL: time.Hour, RotationInterval: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	rot, err := keys.NewRotator(pub, keys.RotatorConfig{Algorithm: keys.EdDSA, Interval: time.Hour}, keys.WithRotatorLogger(zap.NewNop()))
	require.NoError(t, err)
	iss, err := NewIssuer(rot, IssuerConfig{}, WithIssuerLogger(zap.NewNop()))
	require.NoError(t, err)

	_, _, err = iss.IssueAccess(Claims{Subject: "u"})
	assert.ErrorIs(t, err, keys.ErrNoActiveKey)
}

func TestIssueRefresh_LateInRotationInterval(t *testing.T) {
	pub, err := keys.NewPublisher(cache.NewMemory(""), keys.PublisherConfig{
		MaxTokenTTL:      24 * time.Hour,
		SafetyMargin:     5 * time.Minute,
		RotationInterval: time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)
	rot, err := keys.NewRotator(pub, keys.RotatorConfig{Algorithm: keys.EdDSA, Interval: time.Hour}, keys.WithRotatorLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, rot.Rotate(context.Background()))
	pair, err := rot.Current()
	require.NoError(t, err)

	for _, age := range []time.Duration{10 * time.Minute, 59 * time.Minute, time.Hour} {
		now := pair.GeneratedAt.Add(age)
		iss, err := NewIssuer(rot, IssuerConfig{RefreshTTL: 24 * time.Hour},
			WithIssuerLogger(zap.NewNop()),
			WithIssuerClock(func() time.Time { return now }))
		require.NoError(t, err)

		_, exp, err := iss.IssueRefresh(Claims{Subject: "u"})
		require.NoError(t, err, "key age %s", age)
		assert.False(t, exp.After(pair.PublishedUntil()), "key age %s", age)
	}
}

func TestIssueAccessAndRefresh(t *testing.T) {
	e := newEnv(t, keys.EdDSA)

	tok, exp, err := e.issuer.IssueAccess(Claims{Subject: "u", TokenType: TokenRefresh})
	require.NoError(t, err)
	assert.True(t, exp.Equal(e.now.Add(15*time.Minute)))
	c, err := e.validator.Validate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, TokenAccess, c.TokenType)

	tok, exp, err = e.issuer.IssueRefresh(Claims{Subject: "u"})
	require.NoError(t, err)
	assert.True(t, exp.Equal(e.now.Add(12*time.Hour)))
	c, err = e.validator.Validate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, TokenRefresh, c.TokenType)
}

func TestValidate_Expired(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	tok := e.issue(t, Claims{Subject: "u"}, 15*time.Minute)
	exp := e.now.Add(15 * time.Minute)

	_, err := e.validatorAt(t, keys.EdDSA, func() time.Time { return exp.Add(-time.Second) }).Validate(context.Background(), tok)
	require.NoError(t, err)

	_, err = e.validatorAt(t, keys.EdDSA, func() time.Time { return exp }).Validate(context.Background(), tok)
	requireKind(t, err, KindExpired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = e.validatorAt(t, keys.EdDSA, func() time.Time { return exp.Add(time.Second) }).Validate(context.Background(), tok)
	requireKind(t, err, KindExpired)
}

func TestValidate_IssuedInTheFuture(t *testing.T) {
	e := newEnv(t, keys.EdDSA)

	within, err := e.issuer.Issue(Claims{Subject: "u"}, e.now.Add(20*time.Second), e.now.Add(time.Hour))
	require.NoError(t, err)
	_, err = e.validator.Validate(context.Background(), within)
	require.NoError(t, err)

	beyond, err := e.issuer.Issue(Claims{Subject: "u"}, e.now.Add(5*time.Minute), e.now.Add(time.Hour))
	require.NoError(t, err)
	_, err = e.validator.Validate(context.Background(), beyond)
	requireKind(t, err, KindNotYetValid)
}

func TestValidate_MissingTemporalClaims(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	cur, _ := e.rotator.Current()

	noExp := e.signRaw(t, jwtv5.MapClaims{"sub": "u", "iat": e.now.Unix()}, &cur.KID)
	_, err := e.validator.Validate(context.Background(), noExp)
	requireKind(t, err, KindMalformed)

	noIat := e.signRaw(t, jwtv5.MapClaims{"sub": "u", "exp": e.now.Add(time.Hour).Unix()}, &cur.KID)
	_, err = e.validator.Validate(context.Background(), noIat)
	requireKind(t, err, KindMalformed)

	badExp := e.signRaw(t, jwtv5.MapClaims{"sub": "u", "iat": e.now.Unix(), "exp": "tomorrow"}, &cur.KID)
	_, err = e.validator.Validate(context.Background(), badExp)
	requireKind(t, err, KindMalformed)
}

func TestValidate_BadClaimTypes(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	cur, _ := e.rotator.Current()
	base := func() jwtv5.MapClaims {
		return jwtv5.MapClaims{"iat": e.now.Unix(), "exp": e.now.Add(time.Hour).Unix()}
	}

	c := base()
	c["roles"] = "admin"
	_, err := e.validator.Validate(context.Background(), e.signRaw(t, c, &cur.KID))
	requireKind(t, err, KindMalformed)

	c = base()
	c["sub"] = 42
	_, err = e.validator.Validate(context.Background(), e.signRaw(t, c, &cur.KID))
	requireKind(t, err, KindMalformed)
}

func TestValidate_MissingKID(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	tok := e.signRaw(t, jwtv5.MapClaims{"sub": "u", "iat": e.now.Unix(), "exp": e.now.Add(time.Hour).Unix()}, nil)

	_, err := e.validator.Validate(context.Background(), tok)
	requireKind(t, err, KindMissingKeyID)

	// kid ausente gana sobre un alg ajeno
	hs := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims{"sub": "u", "iat": e.now.Unix(), "exp": e.now.Add(time.Hour).Unix()})
	tok, err = hs.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = e.validator.Validate(context.Background(), tok)
	requireKind(t, err, KindMissingKeyID)

	kidless := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","kid":""}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u"}`))
	_, err = e.validator.Validate(context.Background(), kidless+"."+payload+".c2ln")
	requireKind(t, err, KindMissingKeyID)
}

func TestValidate_UnpublishedKID(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	rogue, err := keys.Generate(keys.EdDSA, 0, e.now)
	require.NoError(t, err)

	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, jwtv5.MapClaims{"sub": "u", "iat": e.now.Unix(), "exp": e.now.Add(time.Hour).Unix()})
	tk.Header["kid"] = rogue.KID
	tok, err := tk.SignedString(rogue.Private)
	require.NoError(t, err)

	_, err = e.validator.Validate(context.Background(), tok)
	requireKind(t, err, KindPublicKeyNotFound)
	assert.ErrorIs(t, err, vault.ErrPublicKeyNotFound)
}

func TestValidate_TamperedPayload(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	tok := e.issue(t, Claims{Subject: "alice", Roles: []string{"user"}}, time.Hour)
	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	payload["sub"] = "mallory"
	payload["roles"] = []string{"admin"}
	raw, err = json.Marshal(payload)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(raw)

	_, err = e.validator.Validate(context.Background(), strings.Join(parts, "."))
	requireKind(t, err, KindInvalidSignature)
}

func TestValidate_TamperedSignature(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	tok := e.issue(t, Claims{Subject: "alice"}, time.Hour)
	parts := strings.Split(tok, ".")

	sig := []byte(parts[2])
	i := len(sig) / 2
	if sig[i] == 'A' {
		sig[i] = 'B'
	} else {
		sig[i] = 'A'
	}
	parts[2] = string(sig)

	_, err := e.validator.Validate(context.Background(), strings.Join(parts, "."))
	requireKind(t, err, KindInvalidSignature)
}

func TestValidate_AlgorithmPinning(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	cur, _ := e.rotator.Current()
	claims := jwtv5.MapClaims{"sub": "u", "iat": e.now.Unix(), "exp": e.now.Add(time.Hour).Unix()}

	t.Run("none", func(t *testing.T) {
		tk := jwtv5.NewWithClaims(jwtv5.SigningMethodNone, claims)
		tk.Header["kid"] = cur.KID
		tok, err := tk.SignedString(jwtv5.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = e.validator.Validate(context.Background(), tok)
		requireKind(t, err, KindInvalidSignature)
	})

	t.Run("hmac with public key bytes", func(t *testing.T) {
		rec, err := keys.NewRecord(cur, time.Hour)
		require.NoError(t, err)
		tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
		tk.Header["kid"] = cur.KID
		tok, err := tk.SignedString([]byte(rec.PublicKey))
		require.NoError(t, err)
		_, err = e.validator.Validate(context.Background(), tok)
		requireKind(t, err, KindInvalidSignature)
	})

	t.Run("validator pinned to other alg", func(t *testing.T) {
		tok := e.issue(t, Claims{Subject: "u"}, time.Hour)
		v, err := NewValidator(e.resolver, ValidatorConfig{Algorithm: keys.RS256}, WithValidatorLogger(zap.NewNop()))
		require.NoError(t, err)
		_, err = v.Validate(context.Background(), tok)
		requireKind(t, err, KindInvalidSignature)
	})

	t.Run("unknown alg", func(t *testing.T) {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"XS999","kid":"` + cur.KID + `"}`))
		payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u"}`))
		_, err := e.validator.Validate(context.Background(), header+"."+payload+".c2ln")
		requireKind(t, err, KindInvalidSignature)
	})
}

func TestValidate_Malformed(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	for _, tok := range []string{"", "   ", "not-a-token", "a.b", "%%%.%%%.%%%", "a.b.c.d"} {
		_, err := e.validator.Validate(context.Background(), tok)
		requireKind(t, err, KindMalformed)
	}
}

func TestValidate_TokenSurvivesRotation(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	before, _ := e.rotator.Current()
	old := e.issue(t, Claims{Subject: "u"}, time.Hour)

	require.NoError(t, e.rotator.Rotate(context.Background()))
	after, _ := e.rotator.Current()
	require.NotEqual(t, before.KID, after.KID)

	fresh := e.issue(t, Claims{Subject: "u"}, time.Hour)
	for _, tok := range []string{old, fresh} {
		c, err := e.validator.Validate(context.Background(), tok)
		require.NoError(t, err)
		assert.Equal(t, "u", c.Subject)
	}
}

func TestValidate_Concurrent(t *testing.T) {
	e := newEnv(t, keys.EdDSA)
	tok := e.issue(t, Claims{Subject: "u", Roles: []string{"r"}}, time.Hour)

	const n = 64
	results := make([]*Claims, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.validator.Validate(context.Background(), tok)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestValidationError(t *testing.T) {
	err := fail(KindExpired, nil)
	assert.Equal(t, "token_expired", err.Error())
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrInvalidSignature)

	_, ok := KindOf(context.Canceled)
	assert.False(t, ok)
	assert.Equal(t, "unknown", Kind(99).String())
}
