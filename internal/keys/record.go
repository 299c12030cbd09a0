package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const recordKeyPrefix = "pubkey:"

// RecordKey es la key del store para un kid.
func RecordKey(kid string) string { return recordKeyPrefix + kid }

// PublicKeyRecord es lo que se escribe en el store compartido por cada rotación.
// Inmutable una vez escrito; el store lo purga cuando vence el TTL.
type PublicKeyRecord struct {
	KID         string `json:"kid"`
	Alg         string `json:"alg"`
	PublicKey   string `json:"publicKey"`   // base64 std del DER PKIX
	GeneratedAt int64  `json:"generatedAt"` // epoch millis

	// TTL no viaja en el valor: lo aplica el store al escribir.
	TTL time.Duration `json:"-"`
}

// NewRecord serializa la mitad pública de un par.
func NewRecord(pair *SigningKeyPair, ttl time.Duration) (PublicKeyRecord, error) {
	der, err := x509.MarshalPKIXPublicKey(pair.Public)
	if err != nil {
		return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return PublicKeyRecord{
		KID:         pair.KID,
		Alg:         string(pair.Alg),
		PublicKey:   base64.StdEncoding.EncodeToString(der),
		GeneratedAt: pair.GeneratedAt.UnixMilli(),
		TTL:         ttl,
	}, nil
}

func (r PublicKeyRecord) Marshal() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalRecord parsea el valor leído del store.
func UnmarshalRecord(s string) (PublicKeyRecord, error) {
	var r PublicKeyRecord
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if r.KID == "" || r.PublicKey == "" {
		return PublicKeyRecord{}, fmt.Errorf("%w: missing kid or key", ErrInvalidRecord)
	}
	return r, nil
}

// GeneratedTime convierte generatedAt (ms) a time.Time.
func (r PublicKeyRecord) GeneratedTime() time.Time {
	return time.UnixMilli(r.GeneratedAt).UTC()
}

// PublicKeyFor decodifica la clave y verifica que su tipo corresponda al alg esperado.
// Un registro con otro alg es inválido para este despliegue.
func (r PublicKeyRecord) PublicKeyFor(alg Algorithm) (crypto.PublicKey, error) {
	if Algorithm(r.Alg) != alg {
		return nil, fmt.Errorf("%w: alg %q, expected %q", ErrInvalidRecord, r.Alg, alg)
	}
	der, err := base64.StdEncoding.DecodeString(r.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	switch k := pub.(type) {
	case *rsa.PublicKey:
		if alg != RS256 {
			break
		}
		if k.N.BitLen() < MinRSABits {
			return nil, fmt.Errorf("%w: rsa %d bits", ErrWeakKey, k.N.BitLen())
		}
		return k, nil
	case ed25519.PublicKey:
		if alg == EdDSA {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: key type %T does not match %s", ErrInvalidRecord, pub, alg)
}
