// Package keys owns the issuer-side signing key lifecycle: generation, publication of
// the public half to the shared store, and periodic rotation of the current key.
//
// La clave privada nunca sale del proceso emisor. Sólo la mitad pública se publica,
// como PublicKeyRecord inmutable con TTL, para que los verificadores la resuelvan por kid.
package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Algorithm es el alg JWS fijo por despliegue.
type Algorithm string

const (
	RS256 Algorithm = "RS256"
	EdDSA Algorithm = "EdDSA"

	// MinRSABits es el módulo mínimo aceptado para RS256.
	MinRSABits = 2048
)

var (
	ErrNoActiveKey          = errors.New("no_active_signing_key")
	ErrStoreUnavailable     = errors.New("key_store_unavailable")
	ErrRecordNotFound       = errors.New("public_key_record_not_found")
	ErrInvalidRecord        = errors.New("invalid_public_key_record")
	ErrUnsupportedAlgorithm = errors.New("unsupported_signing_algorithm")
	ErrWeakKey              = errors.New("signing_key_too_weak")
	ErrRecordTTLTooShort    = errors.New("public_key_record_ttl_too_short")
)

// ParseAlgorithm valida el alg configurado.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case RS256:
		return RS256, nil
	case EdDSA:
		return EdDSA, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
}

// SigningKeyPair es un snapshot inmutable de una clave de firma.
// Se instala como "current" con un swap atómico y nunca se modifica después.
type SigningKeyPair struct {
	KID         string
	Alg         Algorithm
	Private     crypto.Signer
	Public      crypto.PublicKey
	GeneratedAt time.Time

	// publishedUntil es la expiración del registro público en el store.
	// Se fija antes de instalar el snapshot; cero si nunca se publicó.
	publishedUntil time.Time
}

// PublishedUntil retorna hasta cuándo los verificadores pueden resolver esta clave.
func (p *SigningKeyPair) PublishedUntil() time.Time { return p.publishedUntil }

// Generate crea un par nuevo con kid único.
func Generate(alg Algorithm, rsaBits int, now time.Time) (*SigningKeyPair, error) {
	pair := &SigningKeyPair{
		KID:         uuid.NewString(),
		Alg:         alg,
		GeneratedAt: now.UTC(),
	}
	switch alg {
	case RS256:
		if rsaBits == 0 {
			rsaBits = MinRSABits
		}
		if rsaBits < MinRSABits {
			return nil, fmt.Errorf("%w: rsa %d bits", ErrWeakKey, rsaBits)
		}
		priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return nil, err
		}
		pair.Private, pair.Public = priv, &priv.PublicKey
	case EdDSA:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		pair.Private, pair.Public = priv, pub
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return pair, nil
}
