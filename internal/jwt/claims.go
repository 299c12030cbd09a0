// Package jwt emite y valida los bearer tokens firmados con las claves rotadas por
// internal/keys. La validación es stateless: sólo necesita resolver la clave pública
// del kid del header.
package jwt

import (
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// TokenType distingue access de refresh. No se usa para autorizar.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims es el modelo de claims del token.
//
// Extra conserva los pares no reservados tal cual llegan. Al validar, los
// números vuelven como json.Number.
type Claims struct {
	Subject   string
	Roles     []string
	TokenType TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any
}

const (
	claimSub       = "sub"
	claimRoles     = "roles"
	claimTokenType = "token_type"
	claimIat       = "iat"
	claimExp       = "exp"
)

func reserved(k string) bool {
	switch k {
	case claimSub, claimRoles, claimTokenType, claimIat, claimExp:
		return true
	}
	return false
}

// toMap arma las claims de wire. Los campos reservados pisan cualquier Extra con el mismo nombre.
func (c Claims) toMap(iat, exp time.Time) jwtv5.MapClaims {
	m := make(jwtv5.MapClaims, len(c.Extra)+5)
	for k, v := range c.Extra {
		m[k] = v
	}
	m[claimSub] = c.Subject
	m[claimRoles] = c.Roles
	m[claimTokenType] = string(c.TokenType)
	m[claimIat] = iat.Unix()
	m[claimExp] = exp.Unix()
	return m
}

// claimsFromMap decodifica claims ya verificadas. iat/exp se leen aparte.
func claimsFromMap(m jwtv5.MapClaims, iat, exp time.Time) (*Claims, error) {
	c := &Claims{
		IssuedAt:  iat,
		ExpiresAt: exp,
	}

	if v, ok := m[claimSub]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("sub: unexpected type %T", v)
		}
		c.Subject = s
	}

	if v, ok := m[claimRoles]; ok && v != nil {
		raw, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("roles: unexpected type %T", v)
		}
		c.Roles = make([]string, 0, len(raw))
		for _, r := range raw {
			s, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("roles: unexpected element %T", r)
			}
			c.Roles = append(c.Roles, s)
		}
	}

	if v, ok := m[claimTokenType]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("token_type: unexpected type %T", v)
		}
		c.TokenType = TokenType(s)
	}

	for k, v := range m {
		if reserved(k) {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
	return c, nil
}
